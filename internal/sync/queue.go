package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesapos/mesaposgo/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Queue is the durable mutation queue over the sync_queue table. Dequeue,
// settle and failure transitions are each a single transaction so a crash at
// any point leaves entries either pending or in-flight, never lost; in-flight
// entries are requeued on startup.
type Queue struct {
	db      *gorm.DB
	backoff BackoffPolicy
}

// NewQueue creates a queue store
func NewQueue(db *gorm.DB, backoff BackoffPolicy) *Queue {
	return &Queue{db: db, backoff: backoff}
}

// entityKey identifies one business entity across the queue
type entityKey struct {
	Type models.EntityType
	ID   string
}

// DequeueBatch marks and returns the next dispatchable entries: oldest first,
// FIFO per entity (an entity whose head entry is still backing off yields
// nothing), skipping entities that already have an in-flight entry, up to
// maxEntitiesInFlight concurrent entities overall.
func (q *Queue) DequeueBatch(maxCount, maxBytes, maxEntitiesInFlight int) ([]models.MutationEntry, error) {
	var selected []models.MutationEntry

	err := q.db.Transaction(func(tx *gorm.DB) error {
		var inFlightRows []models.MutationEntry
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ?", models.MutationInFlight).
			Find(&inFlightRows).Error; err != nil {
			return err
		}

		inFlight := make(map[entityKey]bool, len(inFlightRows))
		for _, row := range inFlightRows {
			inFlight[entityKey{row.EntityType, row.EntityID}] = true
		}

		slots := maxEntitiesInFlight - len(inFlight)
		if slots <= 0 {
			return nil
		}

		// Scan pending entries in pages so a run of old backing-off heads
		// cannot starve eligible entities created after them
		sel := newBatchSelector(inFlight, slots, maxCount, maxBytes, time.Now().UTC())
		pageSize := maxCount * 4
		if pageSize < 64 {
			pageSize = 64
		}
		for offset := 0; !sel.full(); offset += pageSize {
			var pending []models.MutationEntry
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("status = ?", models.MutationPending).
				Order("created_at ASC").
				Limit(pageSize).
				Offset(offset).
				Find(&pending).Error; err != nil {
				return err
			}
			sel.feed(pending)
			if len(pending) < pageSize {
				break
			}
		}

		selected = sel.picked
		if len(selected) == 0 {
			return nil
		}

		ids := make([]string, len(selected))
		for i := range selected {
			ids[i] = selected[i].ID
		}

		now := time.Now().UTC()
		if err := tx.Model(&models.MutationEntry{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":          models.MutationInFlight,
				"last_attempt_at": now,
				"attempt_count":   gorm.Expr("attempt_count + 1"),
			}).Error; err != nil {
			return err
		}

		for i := range selected {
			selected[i].Status = models.MutationInFlight
			selected[i].LastAttemptAt = &now
			selected[i].AttemptCount++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue failed: %w", err)
	}

	return selected, nil
}

// batchSelector accumulates dispatchable entries across scan pages, which
// must arrive ordered oldest first overall. Only the head entry of each
// entity is eligible; a head that is not yet due blocks its whole entity,
// preserving FIFO.
type batchSelector struct {
	inFlight map[entityKey]bool
	seen     map[entityKey]bool
	picked   []models.MutationEntry

	slots      int
	maxCount   int
	maxBytes   int
	totalBytes int
	byteCapped bool
	now        time.Time
}

func newBatchSelector(inFlight map[entityKey]bool, slots, maxCount, maxBytes int, now time.Time) *batchSelector {
	return &batchSelector{
		inFlight: inFlight,
		seen:     make(map[entityKey]bool),
		slots:    slots,
		maxCount: maxCount,
		maxBytes: maxBytes,
		now:      now,
	}
}

// full reports whether no further entry can be admitted
func (b *batchSelector) full() bool {
	return len(b.picked) >= b.maxCount || b.slots <= 0 || b.byteCapped
}

// feed offers one page of pending entries to the selector
func (b *batchSelector) feed(pending []models.MutationEntry) {
	for _, entry := range pending {
		if b.full() {
			return
		}

		key := entityKey{entry.EntityType, entry.EntityID}
		if b.inFlight[key] || b.seen[key] {
			// Not this entity's head, or the entity is busy
			b.seen[key] = true
			continue
		}
		b.seen[key] = true

		if entry.NextAttemptAt.After(b.now) {
			// Head is backing off; the entity waits
			continue
		}

		size := payloadSize(entry)
		if len(b.picked) > 0 && b.totalBytes+size > b.maxBytes {
			b.byteCapped = true
			return
		}

		b.picked = append(b.picked, entry)
		b.totalBytes += size
		b.slots--
	}
}

// selectEligible picks dispatchable entries from a single pending set
func selectEligible(pending []models.MutationEntry, inFlight map[entityKey]bool, slots, maxCount, maxBytes int, now time.Time) []models.MutationEntry {
	sel := newBatchSelector(inFlight, slots, maxCount, maxBytes, now)
	sel.feed(pending)
	return sel.picked
}

func payloadSize(entry models.MutationEntry) int {
	raw, err := json.Marshal(entry.Payload)
	if err != nil {
		return 0
	}
	return len(raw)
}

// Insert adds a fresh entry outside the enqueue transaction (manual resync)
func (q *Queue) Insert(entry *models.MutationEntry) error {
	return q.db.Create(entry).Error
}

// MarkSettled removes a settled entry from the queue
func (q *Queue) MarkSettled(id string) error {
	return q.db.Where("id = ?", id).Delete(&models.MutationEntry{}).Error
}

// MarkFailed transitions an entry after a failed attempt. Non-permanent
// failures go back to pending with the next attempt scheduled by backoff;
// once the attempt budget is spent (or permanent is set) the entry becomes
// failed_permanent and is never retried automatically. Returns whether the
// entry is now permanently failed.
func (q *Queue) MarkFailed(id string, permanent bool, reason string) (bool, error) {
	becamePermanent := false

	err := q.db.Transaction(func(tx *gorm.DB) error {
		var entry models.MutationEntry
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&entry).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"error_message": reason,
		}

		if permanent || q.backoff.Exhausted(entry.AttemptCount) {
			becamePermanent = true
			updates["status"] = models.MutationFailedPermanent
		} else {
			updates["status"] = models.MutationPending
			updates["next_attempt_at"] = time.Now().UTC().Add(q.backoff.Delay(entry.AttemptCount))
		}

		return tx.Model(&models.MutationEntry{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}

	return becamePermanent, nil
}

// Rebase rewrites an entry's payload and base version after conflict
// resolution and makes it immediately dispatchable again
func (q *Queue) Rebase(id string, payload models.JSONB, baseVersion int64) error {
	return q.db.Model(&models.MutationEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"payload":         payload,
			"base_version":    baseVersion,
			"status":          models.MutationPending,
			"next_attempt_at": time.Now().UTC(),
		}).Error
}

// RequeueInFlight returns crashed in-flight entries to pending. Called once
// on startup; anything in flight at that point belonged to a dead process.
func (q *Queue) RequeueInFlight() (int64, error) {
	result := q.db.Model(&models.MutationEntry{}).
		Where("status = ?", models.MutationInFlight).
		Updates(map[string]interface{}{
			"status":          models.MutationPending,
			"next_attempt_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

// Depth reports queue counts per status for the status surface
func (q *Queue) Depth() (pending, inFlight, failed int64, err error) {
	type row struct {
		Status models.MutationStatus
		N      int64
	}
	var rows []row
	err = q.db.Model(&models.MutationEntry{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, 0, err
	}
	for _, r := range rows {
		switch r.Status {
		case models.MutationPending:
			pending = r.N
		case models.MutationInFlight:
			inFlight = r.N
		case models.MutationFailedPermanent:
			failed = r.N
		}
	}
	return pending, inFlight, failed, nil
}

// GetEntry loads one entry by id
func (q *Queue) GetEntry(id string) (*models.MutationEntry, error) {
	var entry models.MutationEntry
	if err := q.db.Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteEntry removes an entry regardless of status (used when a permanent
// failure is re-enqueued as a fresh mutation)
func (q *Queue) DeleteEntry(id string) error {
	return q.db.Where("id = ?", id).Delete(&models.MutationEntry{}).Error
}
