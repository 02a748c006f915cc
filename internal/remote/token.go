package remote

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = time.Hour

// tokenSource mints and caches short-lived terminal identity tokens.
// Every request to the cloud data API carries one; the cloud side maps the
// terminal id to its business and enforces row-level access from it.
type tokenSource struct {
	mu         sync.Mutex
	secret     []byte
	terminalID string
	businessID string

	cached    string
	expiresAt time.Time
}

func newTokenSource(secret, terminalID, businessID string) *tokenSource {
	return &tokenSource{
		secret:     []byte(secret),
		terminalID: terminalID,
		businessID: businessID,
	}
}

// Token returns a valid signed token, reusing the cached one until it is
// within a minute of expiry
func (ts *tokenSource) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.cached != "" && time.Until(ts.expiresAt) > time.Minute {
		return ts.cached, nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"terminal_id": ts.terminalID,
		"business_id": ts.businessID,
		"iat":         now.Unix(),
		"exp":         now.Add(tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", err
	}

	ts.cached = signed
	ts.expiresAt = now.Add(tokenTTL)
	return signed, nil
}
