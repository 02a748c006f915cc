package sync

import (
	"math/rand"
	"time"

	"github.com/mesapos/mesaposgo/internal/config"
)

// BackoffPolicy computes retry delays for transient failures: exponential
// growth from Base, capped at Cap, with a random jitter slice so a fleet of
// terminals coming back online does not hammer the cloud store in lockstep.
type BackoffPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	JitterPct   int // 0-100
	MaxAttempts int
}

// BackoffFromConfig builds a policy from sync tuning
func BackoffFromConfig(cfg *config.SyncConfig) BackoffPolicy {
	return BackoffPolicy{
		Base:        time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		Cap:         time.Duration(cfg.BackoffCapMs) * time.Millisecond,
		JitterPct:   cfg.BackoffJitter,
		MaxAttempts: cfg.MaxAttempts,
	}
}

// Delay returns the wait before the next attempt. attempt is the number of
// failed attempts so far (1 after the first failure).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.Cap {
			delay = p.Cap
			break
		}
	}
	if delay > p.Cap {
		delay = p.Cap
	}

	if p.JitterPct > 0 {
		jitter := delay * time.Duration(p.JitterPct) / 100
		if jitter > 0 {
			delay = delay - jitter/2 + time.Duration(rand.Int63n(int64(jitter)))
		}
	}

	if delay < 0 {
		delay = 0
	}
	return delay
}

// Exhausted reports whether the attempt budget is spent
func (p BackoffPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
