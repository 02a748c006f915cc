package sync

import (
	"sync"
	"time"

	"github.com/mesapos/mesaposgo/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const guardCacheLimit = 10000

// Guard is the idempotency guard: a durable map from mutation id to its
// terminal outcome, with a read-through memory cache. It is what makes a
// lost success acknowledgment safe: the retried entry is recognized and
// settled locally without a second remote submission.
type Guard struct {
	db        *gorm.DB
	retention time.Duration

	mu    sync.RWMutex
	cache map[string]models.IdempotencyRecord
}

// NewGuard creates a guard with the given retention window
func NewGuard(db *gorm.DB, retention time.Duration) *Guard {
	return &Guard{
		db:        db,
		retention: retention,
		cache:     make(map[string]models.IdempotencyRecord),
	}
}

// Lookup returns the recorded outcome for a mutation id, nil if unknown
func (g *Guard) Lookup(id string) (*models.IdempotencyRecord, error) {
	g.mu.RLock()
	rec, ok := g.cache[id]
	g.mu.RUnlock()
	if ok {
		return &rec, nil
	}

	var stored models.IdempotencyRecord
	err := g.db.Where("mutation_id = ?", id).First(&stored).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	g.remember(stored)
	return &stored, nil
}

// Record persists a terminal outcome for a mutation id. The first recorded
// outcome wins; replays never overwrite it.
func (g *Guard) Record(id string, outcome models.IdempotencyOutcome, newVersion int64) error {
	rec := models.IdempotencyRecord{
		MutationID: id,
		Outcome:    outcome,
		NewVersion: newVersion,
		RecordedAt: time.Now().UTC(),
	}

	if err := g.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return err
	}

	g.remember(rec)
	return nil
}

// EvictExpired drops records older than the retention window. The window is
// sized past any plausible retry, so eviction never races a live mutation.
func (g *Guard) EvictExpired() (int64, error) {
	cutoff := time.Now().UTC().Add(-g.retention)

	result := g.db.Where("recorded_at < ?", cutoff).Delete(&models.IdempotencyRecord{})
	if result.Error != nil {
		return 0, result.Error
	}

	g.mu.Lock()
	pruneCache(g.cache, cutoff, 0)
	g.mu.Unlock()

	return result.RowsAffected, nil
}

// remember caches a record, pruning when the cache grows past its cap
func (g *Guard) remember(rec models.IdempotencyRecord) {
	g.mu.Lock()
	g.cache[rec.MutationID] = rec
	if len(g.cache) > guardCacheLimit {
		pruneCache(g.cache, time.Now().UTC().Add(-g.retention/2), guardCacheLimit/2)
	}
	g.mu.Unlock()
}

// pruneCache removes entries recorded before cutoff; if the cache is still
// larger than target afterwards it keeps evicting oldest-first
func pruneCache(cache map[string]models.IdempotencyRecord, cutoff time.Time, target int) {
	for id, rec := range cache {
		if rec.RecordedAt.Before(cutoff) {
			delete(cache, id)
		}
	}
	if target <= 0 || len(cache) <= target {
		return
	}
	for id := range cache {
		delete(cache, id)
		if len(cache) <= target {
			return
		}
	}
}
