package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mesapos/mesaposgo/internal/config"
	"github.com/mesapos/mesaposgo/internal/models"
)

func testClient(serverURL string) *Client {
	return NewClient(config.RemoteConfig{
		BaseURL:    serverURL,
		APISecret:  "test-secret",
		TimeoutSec: 5,
	}, "terminal-1", "biz-1")
}

func TestClient_PushMutationOK(t *testing.T) {
	var gotKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/data/mutations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("X-Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")

		var req MutationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.BaseVersion != 3 {
			t.Errorf("expected base version 3, got %d", req.BaseVersion)
		}

		json.NewEncoder(w).Encode(MutationResponse{Status: PushOK, NewVersion: 4})
	}))
	defer server.Close()

	resp, err := testClient(server.URL).PushMutation(context.Background(), MutationRequest{
		IdempotencyKey: "m1",
		BusinessID:     "biz-1",
		EntityType:     models.EntityTypeOrder,
		EntityID:       "order-1",
		Operation:      models.OpUpdate,
		BaseVersion:    3,
	})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}

	if resp.Status != PushOK || resp.NewVersion != 4 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if gotKey != "m1" {
		t.Errorf("expected idempotency key header m1, got %q", gotKey)
	}
	if gotAuth == "" {
		t.Error("expected a bearer token")
	}
}

func TestClient_PushMutationConflictIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(MutationResponse{
			Status:         PushConflict,
			CurrentVersion: 7,
			CurrentValue:   json.RawMessage(`{"id":"order-1"}`),
		})
	}))
	defer server.Close()

	resp, err := testClient(server.URL).PushMutation(context.Background(), MutationRequest{IdempotencyKey: "m1"})
	if err != nil {
		t.Fatalf("a 409 is an application verdict, not an error: %v", err)
	}
	if resp.Status != PushConflict || resp.CurrentVersion != 7 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestClient_PushMutationRejectedIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(MutationResponse{Status: PushRejected, Reason: ReasonAlreadyExists})
	}))
	defer server.Close()

	resp, err := testClient(server.URL).PushMutation(context.Background(), MutationRequest{IdempotencyKey: "m1"})
	if err != nil {
		t.Fatalf("a 422 is an application verdict, not an error: %v", err)
	}
	if resp.Status != PushRejected || resp.Reason != ReasonAlreadyExists {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestClient_PushMutationServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if _, err := testClient(server.URL).PushMutation(context.Background(), MutationRequest{IdempotencyKey: "m1"}); err == nil {
		t.Fatal("a 5xx must surface as an error so the caller retries")
	}
}

func TestClient_PullChanges(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("entity_type") != "menu_item" || q.Get("since") != "5" || q.Get("limit") != "100" {
			t.Errorf("unexpected query: %v", q)
		}
		json.NewEncoder(w).Encode(ChangesResponse{
			Changes: []Change{
				{EntityType: models.EntityTypeMenuItem, EntityID: "menu-1", Value: json.RawMessage(`{"id":"menu-1"}`), Version: 6},
			},
			NextCursor: 6,
		})
	}))
	defer server.Close()

	resp, err := testClient(server.URL).PullChanges(context.Background(), "biz-1", models.EntityTypeMenuItem, 5, 100)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	if len(resp.Changes) != 1 || resp.Changes[0].EntityID != "menu-1" {
		t.Errorf("unexpected changes: %+v", resp.Changes)
	}
	if resp.NextCursor != 6 {
		t.Errorf("expected next cursor 6, got %d", resp.NextCursor)
	}
}

func TestClient_Health(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	if err := testClient(healthy.URL).Health(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	if err := testClient(broken.URL).Health(context.Background()); err == nil {
		t.Error("expected an error for an unhealthy endpoint")
	}
}
