package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mesapos/mesaposgo/internal/config"
	"github.com/mesapos/mesaposgo/internal/models"
	"github.com/mesapos/mesaposgo/internal/remote"
)

// fakeQueue records queue transitions in memory
type fakeQueue struct {
	settled   []string
	rebased   map[string]Resolution
	failures  []string
	permanent []string
	exhausted bool // next transient failure tips into permanent
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{rebased: make(map[string]Resolution)}
}

func (q *fakeQueue) DequeueBatch(maxCount, maxBytes, maxEntitiesInFlight int) ([]models.MutationEntry, error) {
	return nil, nil
}

func (q *fakeQueue) MarkSettled(id string) error {
	q.settled = append(q.settled, id)
	return nil
}

func (q *fakeQueue) MarkFailed(id string, permanent bool, reason string) (bool, error) {
	if permanent || q.exhausted {
		q.permanent = append(q.permanent, id)
		return true, nil
	}
	q.failures = append(q.failures, id)
	return false, nil
}

func (q *fakeQueue) Rebase(id string, payload models.JSONB, baseVersion int64) error {
	q.rebased[id] = Resolution{Payload: payload, BaseVersion: baseVersion}
	return nil
}

// fakeGuard is an in-memory idempotency record store
type fakeGuard struct {
	records map[string]models.IdempotencyRecord
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{records: make(map[string]models.IdempotencyRecord)}
}

func (g *fakeGuard) Lookup(id string) (*models.IdempotencyRecord, error) {
	if rec, ok := g.records[id]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (g *fakeGuard) Record(id string, outcome models.IdempotencyOutcome, newVersion int64) error {
	if _, ok := g.records[id]; ok {
		return nil // first outcome wins
	}
	g.records[id] = models.IdempotencyRecord{MutationID: id, Outcome: outcome, NewVersion: newVersion}
	return nil
}

// fakeAPI scripts the remote store's responses
type fakeAPI struct {
	response *remote.MutationResponse
	err      error
	calls    int
	lastReq  remote.MutationRequest
}

func (a *fakeAPI) PushMutation(ctx context.Context, req remote.MutationRequest) (*remote.MutationResponse, error) {
	a.calls++
	a.lastReq = req
	if a.err != nil {
		return nil, a.err
	}
	return a.response, nil
}

type dispatchFixture struct {
	queue       *fakeQueue
	guard       *fakeGuard
	api         *fakeAPI
	dispatcher  *Dispatcher
	versions    map[string]int64
	corrections map[string]int64
	failures    []*models.SyncFailure
}

func newDispatchFixture(api *fakeAPI) *dispatchFixture {
	f := &dispatchFixture{
		queue:       newFakeQueue(),
		guard:       newFakeGuard(),
		api:         api,
		versions:    make(map[string]int64),
		corrections: make(map[string]int64),
	}

	cfg := &config.SyncConfig{RequestTimeout: 5, BatchMaxCount: 50, BatchMaxBytes: 1 << 20, MaxEntitiesInFlight: 8, ParallelWorkers: 1}
	f.dispatcher = NewDispatcher(cfg, DispatcherDeps{
		Queue:    f.queue,
		Guard:    f.guard,
		API:      api,
		Resolver: NewResolver(),
		ApplyCorrection: func(entityType models.EntityType, entityID string, value json.RawMessage, version int64) error {
			f.corrections[entityID] = version
			return nil
		},
		SetVersion: func(entityType models.EntityType, entityID string, version int64) error {
			f.versions[entityID] = version
			return nil
		},
		RecordFailure: func(failure *models.SyncFailure) error {
			f.failures = append(f.failures, failure)
			return nil
		},
	})
	return f
}

func orderEntry(id string) models.MutationEntry {
	return models.MutationEntry{
		ID:          id,
		BusinessID:  "biz-1",
		EntityType:  models.EntityTypeOrder,
		EntityID:    "order-1",
		Operation:   models.OpUpdate,
		Payload:     models.JSONB{"order_status": "ready"},
		BaseVersion: 3,
	}
}

func TestDispatcher_AcceptedMutationSettles(t *testing.T) {
	api := &fakeAPI{response: &remote.MutationResponse{Status: remote.PushOK, NewVersion: 4}}
	f := newDispatchFixture(api)

	f.dispatcher.processEntry(orderEntry("m1"))

	if api.calls != 1 {
		t.Fatalf("expected 1 push, got %d", api.calls)
	}
	if api.lastReq.IdempotencyKey != "m1" {
		t.Errorf("push must carry the mutation id as idempotency key, got %q", api.lastReq.IdempotencyKey)
	}
	if len(f.queue.settled) != 1 || f.queue.settled[0] != "m1" {
		t.Fatalf("expected m1 settled, got %v", f.queue.settled)
	}
	if f.versions["order-1"] != 4 {
		t.Errorf("expected local version pinned to 4, got %d", f.versions["order-1"])
	}
	if rec, _ := f.guard.Lookup("m1"); rec == nil || rec.Outcome != models.OutcomeSettled {
		t.Error("expected a settled guard record")
	}
}

func TestDispatcher_RecordedOutcomeSkipsPush(t *testing.T) {
	// The previous attempt applied remotely but its ack was lost. The guard
	// remembers; the retry settles without touching the network.
	api := &fakeAPI{err: errors.New("should not be called")}
	f := newDispatchFixture(api)
	f.guard.Record("m1", models.OutcomeSettled, 4)

	f.dispatcher.processEntry(orderEntry("m1"))

	if api.calls != 0 {
		t.Fatalf("expected no push, got %d", api.calls)
	}
	if len(f.queue.settled) != 1 {
		t.Fatalf("expected m1 settled locally, got %v", f.queue.settled)
	}
	if f.versions["order-1"] != 4 {
		t.Errorf("expected version pinned from the recorded outcome, got %d", f.versions["order-1"])
	}
}

func TestDispatcher_TransportErrorSchedulesRetry(t *testing.T) {
	api := &fakeAPI{err: errors.New("connection refused")}
	f := newDispatchFixture(api)

	f.dispatcher.processEntry(orderEntry("m1"))

	if len(f.queue.failures) != 1 || f.queue.failures[0] != "m1" {
		t.Fatalf("expected m1 marked for retry, got %v", f.queue.failures)
	}
	if len(f.queue.settled) != 0 || len(f.queue.permanent) != 0 {
		t.Error("a transport error must not settle or permanently fail the entry")
	}
	if rec, _ := f.guard.Lookup("m1"); rec != nil {
		t.Error("no outcome may be recorded for an undelivered mutation")
	}
}

func TestDispatcher_ExhaustedRetriesBecomePermanent(t *testing.T) {
	api := &fakeAPI{err: errors.New("connection refused")}
	f := newDispatchFixture(api)
	f.queue.exhausted = true

	var callbackReason string
	f.dispatcher.OnPermanentFailure(func(entry models.MutationEntry, reason string) {
		callbackReason = reason
	})

	f.dispatcher.processEntry(orderEntry("m1"))

	if len(f.queue.permanent) != 1 {
		t.Fatalf("expected m1 permanently failed, got %v", f.queue.permanent)
	}
	if len(f.failures) != 1 {
		t.Fatalf("expected an operator-visible failure record, got %d", len(f.failures))
	}
	if callbackReason == "" {
		t.Error("permanent failure callback should fire with a reason")
	}
}

func TestDispatcher_DuplicateCreateSettles(t *testing.T) {
	api := &fakeAPI{response: &remote.MutationResponse{
		Status: remote.PushRejected, Reason: remote.ReasonAlreadyExists, NewVersion: 1,
	}}
	f := newDispatchFixture(api)

	entry := orderEntry("m1")
	entry.Operation = models.OpCreate

	f.dispatcher.processEntry(entry)

	if len(f.queue.settled) != 1 {
		t.Fatalf("a duplicate create means the intent is satisfied; got settled=%v permanent=%v",
			f.queue.settled, f.queue.permanent)
	}
}

func TestDispatcher_RejectionIsPermanent(t *testing.T) {
	api := &fakeAPI{response: &remote.MutationResponse{Status: remote.PushRejected, Reason: "schema_mismatch"}}
	f := newDispatchFixture(api)

	f.dispatcher.processEntry(orderEntry("m1"))

	if len(f.queue.permanent) != 1 {
		t.Fatalf("expected permanent failure, got %v", f.queue.permanent)
	}
	if rec, _ := f.guard.Lookup("m1"); rec == nil || rec.Outcome != models.OutcomeRejected {
		t.Error("expected a rejected guard record")
	}
}

func TestDispatcher_ConflictRebasesAndRequeues(t *testing.T) {
	remoteOrder, _ := json.Marshal(models.Order{ID: "order-1", Status: models.OrderStatusInProgress, Version: 5})
	api := &fakeAPI{response: &remote.MutationResponse{
		Status: remote.PushConflict, CurrentVersion: 5, CurrentValue: remoteOrder,
	}}
	f := newDispatchFixture(api)

	f.dispatcher.processEntry(orderEntry("m1"))

	rb, ok := f.queue.rebased["m1"]
	if !ok {
		t.Fatal("expected m1 rebased")
	}
	if rb.BaseVersion != 5 {
		t.Errorf("expected rebase onto v5, got v%d", rb.BaseVersion)
	}
	if len(f.queue.settled) != 0 {
		t.Error("a rebased entry must stay in the queue")
	}
	if f.corrections["order-1"] != 5 {
		t.Errorf("expected local copy brought to the reconciled v5 state, got v%d", f.corrections["order-1"])
	}
}

func TestDispatcher_WorkflowRegressionCorrectsLocalCopy(t *testing.T) {
	remoteOrder, _ := json.Marshal(models.Order{ID: "order-1", Status: models.OrderStatusCompleted, Version: 7})
	api := &fakeAPI{response: &remote.MutationResponse{
		Status: remote.PushConflict, CurrentVersion: 7, CurrentValue: remoteOrder,
	}}
	f := newDispatchFixture(api)

	f.dispatcher.processEntry(orderEntry("m1"))

	if len(f.queue.permanent) != 1 {
		t.Fatalf("expected permanent failure, got %v", f.queue.permanent)
	}
	if f.corrections["order-1"] != 7 {
		t.Errorf("expected local copy corrected to remote v7, got v%d", f.corrections["order-1"])
	}
	if len(f.failures) != 1 {
		t.Fatalf("expected one failure record, got %d", len(f.failures))
	}
}
