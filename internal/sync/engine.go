package sync

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mesapos/mesaposgo/internal/config"
	"github.com/mesapos/mesaposgo/internal/localstore"
	"github.com/mesapos/mesaposgo/internal/models"
	"github.com/mesapos/mesaposgo/internal/remote"
)

// Engine assembles the sync machinery for one terminal: the durable queue,
// the idempotency guard, the dispatcher pushing local mutations out and the
// puller reconciling remote state back in.
type Engine struct {
	cfg     *config.Config
	syncCfg *config.SyncConfig

	store      *localstore.Store
	queue      *Queue
	guard      *Guard
	conn       *ConnectionMonitor
	dispatcher *Dispatcher
	puller     *Puller
	pullStore  *PullStore
	sink       EventSink

	stopChan chan struct{}
	started  bool
}

// NewEngine wires the sync components over the local store and API client
func NewEngine(cfg *config.Config, syncCfg *config.SyncConfig, store *localstore.Store, client *remote.Client, sink EventSink) *Engine {
	if sink == nil {
		sink = NopSink{}
	}

	backoff := BackoffFromConfig(syncCfg)
	queue := NewQueue(store.DB(), backoff)
	guard := NewGuard(store.DB(), time.Duration(syncCfg.GuardRetention)*time.Hour)
	resolver := NewResolver()
	conn := NewConnectionMonitor(client, 30*time.Second)

	dispatcher := NewDispatcher(syncCfg, DispatcherDeps{
		Queue:    queue,
		Guard:    guard,
		API:      client,
		Resolver: resolver,
		Conn:     conn,
		Sink:     sink,
		ApplyCorrection: func(entityType models.EntityType, entityID string, value json.RawMessage, version int64) error {
			return store.ApplyRemoteValue(nil, entityType, entityID, value, version, false)
		},
		SetVersion:    store.SetEntityVersion,
		RecordFailure: store.RecordFailure,
	})

	pullStore := NewPullStore(store.DB(), store)
	puller := NewPuller(syncCfg, cfg.BusinessID, pullStore, client, conn, sink)

	return &Engine{
		cfg:        cfg,
		syncCfg:    syncCfg,
		store:      store,
		queue:      queue,
		guard:      guard,
		conn:       conn,
		dispatcher: dispatcher,
		puller:     puller,
		pullStore:  pullStore,
		sink:       sink,
		stopChan:   make(chan struct{}),
	}
}

// Start recovers crashed state and launches the background loops
func (e *Engine) Start() error {
	if e.started {
		return nil
	}
	if !e.syncCfg.Enabled {
		log.Println("⚠️ Sync is disabled; terminal runs fully offline")
		return nil
	}
	e.started = true

	// Anything in flight belonged to a process that died mid-push; its
	// idempotency key makes the resubmission safe
	requeued, err := e.queue.RequeueInFlight()
	if err != nil {
		return fmt.Errorf("failed to recover in-flight mutations: %w", err)
	}
	if requeued > 0 {
		log.Printf("🔄 Requeued %d in-flight mutation(s) from previous run", requeued)
	}

	// A reconnect is the moment the backlog can finally move
	e.conn.OnTransition(func(online bool) {
		e.sink.Publish(Event{Type: EventConnectivity, Detail: onlineLabel(online), At: time.Now().UTC()})
		if online {
			e.dispatcher.Wake()
			e.puller.Wake()
		}
	})

	e.conn.Start()
	e.dispatcher.Start()
	e.puller.Start()
	go e.guardEvictionLoop()

	if e.syncCfg.SyncOnStartup {
		go func() {
			if e.conn.Probe() {
				e.dispatcher.Wake()
				e.puller.Wake()
			}
		}()
	}

	log.Println("✅ Sync engine started")
	return nil
}

// Stop halts the background loops
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	e.started = false

	close(e.stopChan)
	e.puller.Stop()
	e.dispatcher.Stop()
	e.conn.Stop()
	log.Println("✅ Sync engine stopped")
}

// EnqueueLocalChange records a local business write and its outbound mutation
// atomically, then nudges the dispatcher
func (e *Engine) EnqueueLocalChange(entityType models.EntityType, entityID string, op models.Operation, payload models.JSONB) (*models.MutationEntry, error) {
	entry, err := e.store.EnqueueLocalChange(e.cfg.BusinessID, entityType, entityID, op, payload)
	if err != nil {
		return nil, err
	}

	e.sink.Publish(Event{
		Type:       EventMutationQueued,
		EntityType: string(entityType),
		EntityID:   entityID,
		MutationID: entry.ID,
		At:         time.Now().UTC(),
	})
	e.dispatcher.Wake()
	return entry, nil
}

// ConnectivityHint lets the UI force the connectivity state (airplane mode
// toggle, captive portal detection). The health probe corrects a wrong hint.
func (e *Engine) ConnectivityHint(online bool) {
	e.conn.SetOnline(online, "hint")
}

// OnPermanentFailure registers a callback for permanently failed mutations
func (e *Engine) OnPermanentFailure(fn func(entry models.MutationEntry, reason string)) {
	e.dispatcher.OnPermanentFailure(fn)
}

// ListFailures returns the operator-visible permanent failures
func (e *Engine) ListFailures() ([]models.SyncFailure, error) {
	return e.store.ListFailures(e.cfg.BusinessID)
}

// ResyncFailure re-enqueues a permanently failed mutation as a fresh one,
// based on the entity's current local version, and closes out the failure.
// Used after an operator has reviewed and corrected the divergence.
func (e *Engine) ResyncFailure(failureID uint) (*models.MutationEntry, error) {
	failure, err := e.store.GetFailure(failureID)
	if err != nil {
		return nil, fmt.Errorf("failure %d not found: %w", failureID, err)
	}
	if failure.Resolved {
		return nil, fmt.Errorf("failure %d is already resolved", failureID)
	}

	baseVersion, err := e.store.GetEntityVersion(failure.EntityType, failure.EntityID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := &models.MutationEntry{
		ID:            uuid.NewString(),
		BusinessID:    failure.BusinessID,
		EntityType:    failure.EntityType,
		EntityID:      failure.EntityID,
		Operation:     failure.Operation,
		Payload:       failure.Payload,
		BaseVersion:   baseVersion,
		Status:        models.MutationPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if err := e.queue.Insert(entry); err != nil {
		return nil, fmt.Errorf("failed to re-enqueue mutation: %w", err)
	}
	if err := e.store.MarkFailureResolved(failureID); err != nil {
		return nil, err
	}

	log.Printf("🔄 Resynced failed mutation %s as %s (%s %s)",
		failure.MutationID, entry.ID, failure.EntityType, failure.EntityID)
	e.dispatcher.Wake()
	return entry, nil
}

// Status reports the full sync state for the status endpoint
func (e *Engine) Status() (map[string]interface{}, error) {
	pending, inFlight, failed, err := e.queue.Depth()
	if err != nil {
		return nil, err
	}

	cursors := map[string]int64{}
	if rows, err := e.pullStore.Cursors(e.cfg.BusinessID); err == nil {
		for _, row := range rows {
			cursors[string(row.EntityType)] = row.Cursor
		}
	}

	return map[string]interface{}{
		"enabled": e.syncCfg.Enabled,
		"queue": map[string]interface{}{
			"pending":          pending,
			"in_flight":        inFlight,
			"failed_permanent": failed,
		},
		"connection": e.conn.Status(),
		"dispatcher": e.dispatcher.Status(),
		"puller":     e.puller.Status(),
		"cursors":    cursors,
	}, nil
}

// guardEvictionLoop periodically drops idempotency records past retention
func (e *Engine) guardEvictionLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if evicted, err := e.guard.EvictExpired(); err != nil {
				log.Printf("⚠️ Guard eviction failed: %v", err)
			} else if evicted > 0 {
				log.Printf("🧹 Evicted %d expired idempotency record(s)", evicted)
			}
		case <-e.stopChan:
			return
		}
	}
}

func onlineLabel(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}
