package sync

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mesapos/mesaposgo/internal/config"
	"github.com/mesapos/mesaposgo/internal/models"
	"github.com/mesapos/mesaposgo/internal/remote"
)

// pullTarget is the local side of reconciliation
type pullTarget interface {
	Cursor(businessID string, entityType models.EntityType) (int64, error)
	ApplyChanges(businessID string, entityType models.EntityType, changes []remote.Change, nextCursor int64) (applied, deferred int, err error)
}

// remotePuller is the cloud changes endpoint
type remotePuller interface {
	PullChanges(ctx context.Context, businessID string, entityType models.EntityType, since int64, limit int) (*remote.ChangesResponse, error)
}

// Puller periodically reconciles remote-authoritative state into the local
// database: catalog edits from the back office, inventory counts and order
// changes made on other terminals. It pulls per entity type, paged from the
// persisted cursor.
type Puller struct {
	cfg        *config.SyncConfig
	businessID string
	target     pullTarget
	api        remotePuller
	conn       *ConnectionMonitor
	sink       EventSink

	mu          sync.Mutex
	lastPull    time.Time
	lastError   string
	consecFails int
	running     bool

	wake     chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPuller creates a puller; Start launches its loop
func NewPuller(cfg *config.SyncConfig, businessID string, target pullTarget, api remotePuller, conn *ConnectionMonitor, sink EventSink) *Puller {
	if sink == nil {
		sink = NopSink{}
	}
	return &Puller{
		cfg:        cfg,
		businessID: businessID,
		target:     target,
		api:        api,
		conn:       conn,
		sink:       sink,
		wake:       make(chan struct{}, 1),
		stopChan:   make(chan struct{}),
	}
}

// Start launches the reconciliation loop
func (p *Puller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop()
	log.Println("🔄 Reconciliation puller started")
}

// Stop halts the loop and waits for an in-progress pull to finish
func (p *Puller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()
	log.Println("🛑 Reconciliation puller stopped")
}

// Wake nudges the loop to pull immediately (startup sync, reconnect)
func (p *Puller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Status reports puller state for the status surface
func (p *Puller) Status() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]interface{}{
		"last_pull":            p.lastPull,
		"last_error":           p.lastError,
		"consecutive_failures": p.consecFails,
	}
}

func (p *Puller) loop() {
	defer p.wg.Done()

	interval := time.Duration(p.cfg.PullInterval) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-p.wake:
		case <-ticker.C:
		}

		if p.conn != nil && !p.conn.IsOnline() {
			continue
		}
		p.PullAll()
	}
}

// PullAll reconciles every pull-enabled entity type in priority order.
// Exported so startup and tests can force a pass.
func (p *Puller) PullAll() {
	types := p.pullableTypes()

	failed := false
	for _, entityType := range types {
		select {
		case <-p.stopChan:
			return
		default:
		}

		if err := p.pullEntityType(entityType); err != nil {
			log.Printf("⚠️ Pull of %s failed: %v", entityType, err)
			p.notePullError(err.Error())
			failed = true
			// A failed type does not block the others
		}
	}

	p.mu.Lock()
	p.lastPull = time.Now().UTC()
	if failed {
		p.consecFails++
	} else {
		p.consecFails = 0
		p.lastError = ""
	}
	p.mu.Unlock()
}

// pullEntityType pages through remote deltas for one type until a page comes
// back short or deferral stalls the cursor
func (p *Puller) pullEntityType(entityType models.EntityType) error {
	limit := p.cfg.PullPageSize
	if limit <= 0 {
		limit = 500
	}
	timeout := time.Duration(p.cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	for {
		since, err := p.target.Cursor(p.businessID, entityType)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		resp, err := p.api.PullChanges(ctx, p.businessID, entityType, since, limit)
		cancel()
		if err != nil {
			if p.conn != nil {
				p.conn.SetOnline(false, "pull_error")
			}
			return err
		}
		if p.conn != nil {
			p.conn.SetOnline(true, "pull_success")
		}

		if len(resp.Changes) == 0 {
			return nil
		}

		applied, deferred, err := p.target.ApplyChanges(p.businessID, entityType, resp.Changes, resp.NextCursor)
		if err != nil {
			return err
		}

		if applied > 0 {
			log.Printf("📦 Pulled %d %s change(s) (%d deferred)", applied, entityType, deferred)
			p.sink.Publish(Event{
				Type:       EventPullApplied,
				EntityType: string(entityType),
				At:         time.Now().UTC(),
			})
		}

		if deferred > 0 {
			// Cursor did not advance; retry this page on the next cycle,
			// by which time the blocking mutations should have settled
			return nil
		}
		if len(resp.Changes) < limit {
			return nil
		}
	}
}

// pullableTypes lists enabled pull types, highest priority first
func (p *Puller) pullableTypes() []models.EntityType {
	type prioritized struct {
		t        models.EntityType
		priority int
	}
	var out []prioritized
	for name, ec := range p.cfg.Entities {
		if ec.Enabled && ec.Pull {
			out = append(out, prioritized{models.EntityType(name), ec.Priority})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		return out[i].t < out[j].t
	})

	types := make([]models.EntityType, len(out))
	for i, pt := range out {
		types[i] = pt.t
	}
	return types
}

func (p *Puller) notePullError(msg string) {
	p.mu.Lock()
	p.lastError = msg
	p.mu.Unlock()
}
