package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mesapos/mesaposgo/internal/config"
	"github.com/mesapos/mesaposgo/internal/models"
	"github.com/mesapos/mesaposgo/internal/remote"
)

// fakePullTarget keeps cursors and applied changes in memory
type fakePullTarget struct {
	cursors  map[models.EntityType]int64
	applied  []remote.Change
	deferred map[string]bool // entity ids with an outbound mutation
}

func newFakePullTarget() *fakePullTarget {
	return &fakePullTarget{
		cursors:  make(map[models.EntityType]int64),
		deferred: make(map[string]bool),
	}
}

func (t *fakePullTarget) Cursor(businessID string, entityType models.EntityType) (int64, error) {
	return t.cursors[entityType], nil
}

func (t *fakePullTarget) ApplyChanges(businessID string, entityType models.EntityType, changes []remote.Change, nextCursor int64) (int, int, error) {
	applied, deferredCount := 0, 0
	for _, change := range changes {
		if t.deferred[change.EntityID] {
			deferredCount++
			continue
		}
		t.applied = append(t.applied, change)
		applied++
	}
	if deferredCount == 0 {
		t.cursors[entityType] = nextCursor
	}
	return applied, deferredCount, nil
}

// fakeChangesAPI serves scripted pages keyed by cursor position
type fakeChangesAPI struct {
	pages        map[int64]*remote.ChangesResponse
	err          error
	calls        int
	lastDeadline time.Time
}

func (a *fakeChangesAPI) PullChanges(ctx context.Context, businessID string, entityType models.EntityType, since int64, limit int) (*remote.ChangesResponse, error) {
	a.calls++
	if deadline, ok := ctx.Deadline(); ok {
		a.lastDeadline = deadline
	}
	if a.err != nil {
		return nil, a.err
	}
	if page, ok := a.pages[since]; ok {
		return page, nil
	}
	return &remote.ChangesResponse{NextCursor: since}, nil
}

func pullerConfig() *config.SyncConfig {
	return &config.SyncConfig{
		RequestTimeout: 5,
		PullPageSize:   2,
		Entities: map[string]config.EntitySyncConfig{
			"menu_item": {Enabled: true, Pull: true, Priority: 6},
		},
	}
}

func menuChange(id string, version int64) remote.Change {
	return remote.Change{
		EntityType: models.EntityTypeMenuItem,
		EntityID:   id,
		Value:      []byte(`{"id":"` + id + `"}`),
		Version:    version,
	}
}

func TestPuller_PagesUntilShortPage(t *testing.T) {
	target := newFakePullTarget()
	api := &fakeChangesAPI{pages: map[int64]*remote.ChangesResponse{
		0: {Changes: []remote.Change{menuChange("a", 1), menuChange("b", 2)}, NextCursor: 2},
		2: {Changes: []remote.Change{menuChange("c", 3)}, NextCursor: 3},
	}}

	puller := NewPuller(pullerConfig(), "biz-1", target, api, nil, nil)
	puller.PullAll()

	if len(target.applied) != 3 {
		t.Fatalf("expected 3 changes applied, got %d", len(target.applied))
	}
	if target.cursors[models.EntityTypeMenuItem] != 3 {
		t.Errorf("expected cursor at 3, got %d", target.cursors[models.EntityTypeMenuItem])
	}
	// Full page then short page: exactly two requests
	if api.calls != 2 {
		t.Errorf("expected 2 pull requests, got %d", api.calls)
	}
}

func TestPuller_DeferredChangeHoldsCursor(t *testing.T) {
	target := newFakePullTarget()
	target.deferred["b"] = true
	api := &fakeChangesAPI{pages: map[int64]*remote.ChangesResponse{
		0: {Changes: []remote.Change{menuChange("a", 1), menuChange("b", 2)}, NextCursor: 2},
	}}

	puller := NewPuller(pullerConfig(), "biz-1", target, api, nil, nil)
	puller.PullAll()

	// "a" applied, "b" deferred; the cursor must not advance so "b" is
	// pulled again once its outbound mutation settles
	if len(target.applied) != 1 || target.applied[0].EntityID != "a" {
		t.Fatalf("expected only 'a' applied, got %v", target.applied)
	}
	if target.cursors[models.EntityTypeMenuItem] != 0 {
		t.Errorf("cursor must hold at 0 while a change is deferred, got %d",
			target.cursors[models.EntityTypeMenuItem])
	}
}

func TestPuller_ReplayedPageIsIdempotentForCursor(t *testing.T) {
	target := newFakePullTarget()
	api := &fakeChangesAPI{pages: map[int64]*remote.ChangesResponse{
		0: {Changes: []remote.Change{menuChange("a", 1)}, NextCursor: 1},
	}}

	puller := NewPuller(pullerConfig(), "biz-1", target, api, nil, nil)
	puller.PullAll()
	puller.PullAll()

	if target.cursors[models.EntityTypeMenuItem] != 1 {
		t.Errorf("expected cursor stable at 1, got %d", target.cursors[models.EntityTypeMenuItem])
	}
}

func TestPuller_ErrorOnOneTypeDoesNotAbortOthers(t *testing.T) {
	cfg := pullerConfig()
	cfg.Entities["order"] = config.EntitySyncConfig{Enabled: true, Pull: true, Priority: 10}

	target := newFakePullTarget()
	api := &fakeChangesAPI{err: errors.New("remote down")}

	puller := NewPuller(cfg, "biz-1", target, api, nil, nil)
	puller.PullAll()

	// Both types attempted despite the first failing
	if api.calls != 2 {
		t.Errorf("expected both entity types attempted, got %d calls", api.calls)
	}

	status := puller.Status()
	if status["consecutive_failures"].(int) != 1 {
		t.Errorf("expected 1 consecutive failure, got %v", status["consecutive_failures"])
	}
}

func TestPuller_MissingRequestTimeoutGetsDefault(t *testing.T) {
	// A sync config file that omits request_timeout unmarshals to zero; the
	// pull context must still get a usable deadline
	cfg := pullerConfig()
	cfg.RequestTimeout = 0

	api := &fakeChangesAPI{}
	puller := NewPuller(cfg, "biz-1", newFakePullTarget(), api, nil, nil)
	puller.PullAll()

	if api.lastDeadline.IsZero() {
		t.Fatal("expected a deadline on the pull context")
	}
	if remaining := time.Until(api.lastDeadline); remaining < 10*time.Second {
		t.Errorf("expected the default timeout, deadline only %v away", remaining)
	}
}

func TestPuller_PullableTypesOrderedByPriority(t *testing.T) {
	cfg := pullerConfig()
	cfg.Entities["order"] = config.EntitySyncConfig{Enabled: true, Pull: true, Priority: 10}
	cfg.Entities["loyalty_ledger_entry"] = config.EntitySyncConfig{Enabled: true, Pull: false, Priority: 7}
	cfg.Entities["inventory_item"] = config.EntitySyncConfig{Enabled: false, Pull: true, Priority: 8}

	puller := NewPuller(cfg, "biz-1", newFakePullTarget(), &fakeChangesAPI{}, nil, nil)
	types := puller.pullableTypes()

	// Push-only and disabled types excluded; highest priority first
	if len(types) != 2 {
		t.Fatalf("expected 2 pullable types, got %v", types)
	}
	if types[0] != models.EntityTypeOrder || types[1] != models.EntityTypeMenuItem {
		t.Errorf("unexpected order: %v", types)
	}
}
