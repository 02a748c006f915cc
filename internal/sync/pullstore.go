package sync

import (
	"fmt"
	"time"

	"github.com/mesapos/mesaposgo/internal/localstore"
	"github.com/mesapos/mesaposgo/internal/models"
	"github.com/mesapos/mesaposgo/internal/remote"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PullStore applies remote change pages to the local database and tracks the
// per-entity-type reconciliation cursor.
type PullStore struct {
	db    *gorm.DB
	store *localstore.Store
}

// NewPullStore creates a pull store
func NewPullStore(db *gorm.DB, store *localstore.Store) *PullStore {
	return &PullStore{db: db, store: store}
}

// Cursor returns the last pulled remote version for an entity type, 0 if the
// type has never been pulled
func (p *PullStore) Cursor(businessID string, entityType models.EntityType) (int64, error) {
	var cursor models.ReconciliationCursor
	err := p.db.Where("business_id = ? AND entity_type = ?", businessID, entityType).
		First(&cursor).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cursor.Cursor, nil
}

// Cursors lists all persisted cursors for the status surface
func (p *PullStore) Cursors(businessID string) ([]models.ReconciliationCursor, error) {
	var cursors []models.ReconciliationCursor
	err := p.db.Where("business_id = ?", businessID).
		Order("entity_type ASC").
		Find(&cursors).Error
	return cursors, err
}

// ApplyChanges applies one page of remote deltas in a single transaction.
// Changes for entities with an outbound mutation in the queue are deferred;
// their remote state will be seen again because a deferred change keeps the
// cursor from advancing. Applies are idempotent upserts, so re-pulling the
// same page is harmless.
func (p *PullStore) ApplyChanges(businessID string, entityType models.EntityType, changes []remote.Change, nextCursor int64) (applied, deferred int, err error) {
	err = p.db.Transaction(func(tx *gorm.DB) error {
		for _, change := range changes {
			busy, err := p.store.HasOutboundMutation(tx, change.EntityType, change.EntityID)
			if err != nil {
				return err
			}
			if busy {
				// The local mutation's push (or its conflict resolution)
				// will reconcile this entity; skip the remote value for now
				deferred++
				continue
			}

			if err := p.store.ApplyRemoteValue(tx, change.EntityType, change.EntityID,
				change.Value, change.Version, change.Deleted); err != nil {
				return err
			}
			applied++
		}

		if deferred > 0 {
			return nil
		}

		cursor := models.ReconciliationCursor{
			BusinessID: businessID,
			EntityType: entityType,
			Cursor:     nextCursor,
			UpdatedAt:  time.Now().UTC(),
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&cursor).Error
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to apply pulled changes: %w", err)
	}
	return applied, deferred, nil
}
