package sync

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/mesapos/mesaposgo/internal/config"
	"github.com/mesapos/mesaposgo/internal/models"
	"github.com/mesapos/mesaposgo/internal/remote"
)

// mutationQueue is the queue surface the dispatcher drives
type mutationQueue interface {
	DequeueBatch(maxCount, maxBytes, maxEntitiesInFlight int) ([]models.MutationEntry, error)
	MarkSettled(id string) error
	MarkFailed(id string, permanent bool, reason string) (bool, error)
	Rebase(id string, payload models.JSONB, baseVersion int64) error
}

// idempotencyGuard is the outcome memory consulted before every push
type idempotencyGuard interface {
	Lookup(id string) (*models.IdempotencyRecord, error)
	Record(id string, outcome models.IdempotencyOutcome, newVersion int64) error
}

// remoteAPI is the cloud mutation endpoint
type remoteAPI interface {
	PushMutation(ctx context.Context, req remote.MutationRequest) (*remote.MutationResponse, error)
}

// Dispatcher drains the mutation queue toward the cloud store. It wakes on a
// new local mutation, on a connectivity flip and on a timer, pulls a batch of
// entity heads and pushes them through a small worker pool. Every push is
// preceded by a guard lookup so a replay after a lost acknowledgment settles
// locally instead of resubmitting.
type Dispatcher struct {
	cfg      *config.SyncConfig
	queue    mutationQueue
	guard    idempotencyGuard
	api      remoteAPI
	resolver *Resolver
	conn     *ConnectionMonitor
	sink     EventSink

	// applyCorrection overwrites the local entity with a reconciled remote
	// value after conflict resolution, so the terminal converges
	applyCorrection func(entityType models.EntityType, entityID string, value json.RawMessage, version int64) error
	setVersion      func(entityType models.EntityType, entityID string, version int64) error
	recordFailure   func(failure *models.SyncFailure) error

	mu          sync.Mutex
	onPermanent []func(entry models.MutationEntry, reason string)
	lastDrain   time.Time
	lastError   string

	wake     chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// DispatcherDeps bundles the dispatcher's collaborators
type DispatcherDeps struct {
	Queue    mutationQueue
	Guard    idempotencyGuard
	API      remoteAPI
	Resolver *Resolver
	Conn     *ConnectionMonitor
	Sink     EventSink

	ApplyCorrection func(entityType models.EntityType, entityID string, value json.RawMessage, version int64) error
	SetVersion      func(entityType models.EntityType, entityID string, version int64) error
	RecordFailure   func(failure *models.SyncFailure) error
}

// NewDispatcher creates a dispatcher; Start launches its loop
func NewDispatcher(cfg *config.SyncConfig, deps DispatcherDeps) *Dispatcher {
	sink := deps.Sink
	if sink == nil {
		sink = NopSink{}
	}
	return &Dispatcher{
		cfg:             cfg,
		queue:           deps.Queue,
		guard:           deps.Guard,
		api:             deps.API,
		resolver:        deps.Resolver,
		conn:            deps.Conn,
		sink:            sink,
		applyCorrection: deps.ApplyCorrection,
		setVersion:      deps.SetVersion,
		recordFailure:   deps.RecordFailure,
		wake:            make(chan struct{}, 1),
		stopChan:        make(chan struct{}),
	}
}

// OnPermanentFailure registers a callback fired when an entry is declared
// permanently failed
func (d *Dispatcher) OnPermanentFailure(fn func(entry models.MutationEntry, reason string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onPermanent = append(d.onPermanent, fn)
}

// Start launches the dispatch loop
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop()
	log.Println("🔄 Sync dispatcher started")
}

// Stop halts the dispatch loop and waits for in-flight pushes to finish
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopChan)
	d.wg.Wait()
	log.Println("🛑 Sync dispatcher stopped")
}

// Wake nudges the loop to drain immediately (new local mutation, reconnect)
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Status reports dispatcher state for the status surface
func (d *Dispatcher) Status() map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]interface{}{
		"last_drain": d.lastDrain,
		"last_error": d.lastError,
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	interval := time.Duration(d.cfg.DispatchInterval) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-d.wake:
		case <-ticker.C:
		}

		if d.conn != nil && !d.conn.IsOnline() {
			continue
		}
		d.Drain()
	}
}

// Drain dequeues and pushes batches until the queue yields nothing
// dispatchable. Exported so startup and tests can force a pass.
func (d *Dispatcher) Drain() {
	for {
		select {
		case <-d.stopChan:
			return
		default:
		}

		batch, err := d.queue.DequeueBatch(d.cfg.BatchMaxCount, d.cfg.BatchMaxBytes, d.cfg.MaxEntitiesInFlight)
		if err != nil {
			log.Printf("⚠️ Dequeue failed: %v", err)
			d.noteError(err.Error())
			return
		}
		if len(batch) == 0 {
			d.noteDrain()
			return
		}

		d.pushBatch(batch)
	}
}

// pushBatch pushes a batch through the worker pool. Entries in one batch
// always belong to distinct entities, so parallel pushes preserve per-entity
// ordering.
func (d *Dispatcher) pushBatch(batch []models.MutationEntry) {
	workers := d.cfg.ParallelWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(batch) {
		workers = len(batch)
	}

	jobs := make(chan models.MutationEntry)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				d.processEntry(entry)
			}
		}()
	}

	for _, entry := range batch {
		jobs <- entry
	}
	close(jobs)
	wg.Wait()
}

// processEntry carries one mutation through guard check, push and outcome
// handling
func (d *Dispatcher) processEntry(entry models.MutationEntry) {
	// A recorded outcome means a previous attempt reached the cloud store
	// but its acknowledgment was lost; settle or fail locally, never push
	if rec, err := d.guard.Lookup(entry.ID); err == nil && rec != nil {
		if rec.Outcome == models.OutcomeSettled {
			d.settle(entry, rec.NewVersion)
		} else {
			d.failPermanent(entry, "previously rejected by remote store", nil, 0)
		}
		return
	} else if err != nil {
		log.Printf("⚠️ Guard lookup failed for %s: %v", entry.ID, err)
		d.failTransient(entry, "guard lookup failed: "+err.Error())
		return
	}

	timeout := time.Duration(d.cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := d.api.PushMutation(ctx, remote.MutationRequest{
		IdempotencyKey: entry.ID,
		BusinessID:     entry.BusinessID,
		EntityType:     entry.EntityType,
		EntityID:       entry.EntityID,
		Operation:      entry.Operation,
		Payload:        entry.Payload,
		BaseVersion:    entry.BaseVersion,
	})
	if err != nil {
		// Transport failure: the mutation may or may not have applied, but
		// the idempotency key makes the retry safe either way
		if d.conn != nil {
			d.conn.SetOnline(false, "dispatch_error")
		}
		d.failTransient(entry, err.Error())
		return
	}

	if d.conn != nil {
		d.conn.SetOnline(true, "dispatch_success")
	}

	switch resp.Status {
	case remote.PushOK:
		if err := d.guard.Record(entry.ID, models.OutcomeSettled, resp.NewVersion); err != nil {
			log.Printf("⚠️ Failed to record settled outcome for %s: %v", entry.ID, err)
		}
		d.settle(entry, resp.NewVersion)

	case remote.PushConflict:
		d.handleConflict(entry, resp)

	case remote.PushRejected:
		if entry.Operation == models.OpCreate && resp.Reason == remote.ReasonAlreadyExists {
			// The create landed under an earlier key (crash between push
			// and enqueue cleanup); the intent is satisfied
			if err := d.guard.Record(entry.ID, models.OutcomeSettled, resp.NewVersion); err != nil {
				log.Printf("⚠️ Failed to record settled outcome for %s: %v", entry.ID, err)
			}
			d.settle(entry, resp.NewVersion)
			return
		}
		d.failPermanent(entry, "rejected: "+resp.Reason, nil, 0)

	default:
		d.failTransient(entry, "unrecognized push status: "+string(resp.Status))
	}
}

// handleConflict runs the per-entity-type policy and applies its verdict
func (d *Dispatcher) handleConflict(entry models.MutationEntry, resp *remote.MutationResponse) {
	res := d.resolver.Resolve(&entry, resp.CurrentVersion, resp.CurrentValue)

	switch res.Action {
	case ResolutionRebase:
		if err := d.queue.Rebase(entry.ID, res.Payload, res.BaseVersion); err != nil {
			log.Printf("⚠️ Failed to rebase %s: %v", entry.ID, err)
			d.failTransient(entry, "rebase failed: "+err.Error())
			return
		}
		log.Printf("🔄 Rebased %s %s onto v%d after conflict", entry.EntityType, entry.EntityID, res.BaseVersion)

		// Bring the local copy to the reconciled state (remote value plus
		// the rebased change) so the terminal shows what the cloud store is
		// about to hold
		if merged := overlayValue(resp.CurrentValue, res.Payload); merged != nil && d.applyCorrection != nil {
			if err := d.applyCorrection(entry.EntityType, entry.EntityID, merged, res.BaseVersion); err != nil {
				log.Printf("⚠️ Failed to apply reconciled value for %s %s: %v", entry.EntityType, entry.EntityID, err)
			}
		}
		d.sink.Publish(Event{
			Type:       EventConflictRebased,
			EntityType: string(entry.EntityType),
			EntityID:   entry.EntityID,
			MutationID: entry.ID,
			At:         time.Now().UTC(),
		})
		d.Wake()

	case ResolutionSettle:
		if err := d.guard.Record(entry.ID, models.OutcomeSettled, resp.CurrentVersion); err != nil {
			log.Printf("⚠️ Failed to record settled outcome for %s: %v", entry.ID, err)
		}
		d.settle(entry, resp.CurrentVersion)

	case ResolutionPermanent:
		d.failPermanent(entry, res.Reason, resp.CurrentValue, resp.CurrentVersion)
	}
}

// settle finalizes an applied mutation: advance the local version, drop the
// queue entry, notify
func (d *Dispatcher) settle(entry models.MutationEntry, newVersion int64) {
	if newVersion > 0 && entry.Operation != models.OpDelete && d.setVersion != nil {
		if err := d.setVersion(entry.EntityType, entry.EntityID, newVersion); err != nil {
			log.Printf("⚠️ Failed to pin version for %s %s: %v", entry.EntityType, entry.EntityID, err)
		}
	}
	if err := d.queue.MarkSettled(entry.ID); err != nil {
		log.Printf("⚠️ Failed to settle %s: %v", entry.ID, err)
		return
	}
	d.sink.Publish(Event{
		Type:       EventMutationSettled,
		EntityType: string(entry.EntityType),
		EntityID:   entry.EntityID,
		MutationID: entry.ID,
		At:         time.Now().UTC(),
	})
}

// failTransient schedules a retry; the entry may tip over into permanent
// failure if its attempt budget is spent
func (d *Dispatcher) failTransient(entry models.MutationEntry, reason string) {
	d.noteError(reason)

	becamePermanent, err := d.queue.MarkFailed(entry.ID, false, reason)
	if err != nil {
		log.Printf("⚠️ Failed to mark %s failed: %v", entry.ID, err)
		return
	}
	if becamePermanent {
		d.surfacePermanent(entry, "attempt budget exhausted: "+reason)
		return
	}
	d.sink.Publish(Event{
		Type:       EventMutationRetrying,
		EntityType: string(entry.EntityType),
		EntityID:   entry.EntityID,
		MutationID: entry.ID,
		Detail:     reason,
		At:         time.Now().UTC(),
	})
}

// failPermanent marks the entry failed for good, records the rejection in the
// guard and corrects the local copy to the remote value when one is known
func (d *Dispatcher) failPermanent(entry models.MutationEntry, reason string, remoteValue json.RawMessage, remoteVersion int64) {
	if _, err := d.queue.MarkFailed(entry.ID, true, reason); err != nil {
		log.Printf("⚠️ Failed to mark %s permanently failed: %v", entry.ID, err)
	}
	if err := d.guard.Record(entry.ID, models.OutcomeRejected, 0); err != nil {
		log.Printf("⚠️ Failed to record rejected outcome for %s: %v", entry.ID, err)
	}

	if remoteValue != nil && d.applyCorrection != nil {
		// Overwrite the diverged local copy so staff see authoritative state
		if err := d.applyCorrection(entry.EntityType, entry.EntityID, remoteValue, remoteVersion); err != nil {
			log.Printf("⚠️ Failed to apply remote correction for %s %s: %v", entry.EntityType, entry.EntityID, err)
		}
	}

	d.surfacePermanentWithRemote(entry, reason, remoteValue, remoteVersion)
}

// surfacePermanent records the operator-visible failure and fires callbacks
func (d *Dispatcher) surfacePermanent(entry models.MutationEntry, reason string) {
	d.surfacePermanentWithRemote(entry, reason, nil, 0)
}

func (d *Dispatcher) surfacePermanentWithRemote(entry models.MutationEntry, reason string, remoteValue json.RawMessage, remoteVersion int64) {
	log.Printf("🛑 Mutation %s (%s on %s %s) permanently failed: %s",
		entry.ID, entry.Operation, entry.EntityType, entry.EntityID, reason)

	if d.recordFailure != nil {
		failure := &models.SyncFailure{
			MutationID:    entry.ID,
			BusinessID:    entry.BusinessID,
			EntityType:    entry.EntityType,
			EntityID:      entry.EntityID,
			Operation:     entry.Operation,
			Payload:       entry.Payload,
			Reason:        reason,
			RemoteVersion: remoteVersion,
		}
		if len(remoteValue) > 0 {
			snapshot := make(models.JSONB)
			if err := json.Unmarshal(remoteValue, &snapshot); err == nil {
				failure.RemoteValue = snapshot
			}
		}
		if err := d.recordFailure(failure); err != nil {
			log.Printf("⚠️ Failed to record sync failure for %s: %v", entry.ID, err)
		}
	}

	d.sink.Publish(Event{
		Type:       EventMutationFailed,
		EntityType: string(entry.EntityType),
		EntityID:   entry.EntityID,
		MutationID: entry.ID,
		Detail:     reason,
		At:         time.Now().UTC(),
	})

	d.mu.Lock()
	callbacks := make([]func(models.MutationEntry, string), len(d.onPermanent))
	copy(callbacks, d.onPermanent)
	d.mu.Unlock()
	for _, fn := range callbacks {
		fn(entry, reason)
	}
}

// overlayValue merges a rebased payload onto the remote store's current
// value; nil if the remote value is unusable
func overlayValue(current json.RawMessage, overlay models.JSONB) json.RawMessage {
	if len(current) == 0 {
		return nil
	}
	base := make(map[string]interface{})
	if err := json.Unmarshal(current, &base); err != nil {
		return nil
	}
	for k, v := range overlay {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return nil
	}
	return merged
}

func (d *Dispatcher) noteDrain() {
	d.mu.Lock()
	d.lastDrain = time.Now().UTC()
	d.mu.Unlock()
}

func (d *Dispatcher) noteError(msg string) {
	d.mu.Lock()
	d.lastError = msg
	d.mu.Unlock()
}
