package localstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mesapos/mesaposgo/internal/database"
	"github.com/mesapos/mesaposgo/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the terminal's view of the local database. Every foreground write
// goes through EnqueueLocalChange so the business row and its queue entry
// commit as one unit: an accepted local write always has a mutation queued.
type Store struct {
	db *database.DB
}

// NewStore creates a local store over the terminal database
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for the queue and cursor stores
func (s *Store) DB() *gorm.DB {
	return s.db.DB
}

// EnqueueLocalChange applies a business write and records the outbound
// mutation in a single transaction. It returns after commit; a local-store
// failure fails the whole operation and nothing is queued.
func (s *Store) EnqueueLocalChange(businessID string, entityType models.EntityType, entityID string, op models.Operation, payload models.JSONB) (*models.MutationEntry, error) {
	if businessID == "" {
		return nil, fmt.Errorf("business id is required")
	}

	entry := &models.MutationEntry{
		ID:         uuid.NewString(),
		BusinessID: businessID,
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Status:     models.MutationPending,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		baseVersion, queuedPayload, err := applyLocalWrite(tx, businessID, entityType, entityID, op, payload)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		entry.Payload = queuedPayload
		entry.BaseVersion = baseVersion
		entry.NextAttemptAt = now
		entry.CreatedAt = now
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, fmt.Errorf("local write failed: %w", err)
	}

	return entry, nil
}

// applyLocalWrite performs the entity-table side of a mutation and returns
// the version the mutation was computed against plus the payload to queue
// (inventory updates get the recomputed absolute count folded in).
func applyLocalWrite(tx *gorm.DB, businessID string, entityType models.EntityType, entityID string, op models.Operation, payload models.JSONB) (int64, models.JSONB, error) {
	model, ok := models.NewEntityFor(entityType)
	if !ok {
		return 0, nil, fmt.Errorf("unsupported entity type: %s", entityType)
	}

	switch op {
	case models.OpCreate:
		if err := decodeInto(model, payload); err != nil {
			return 0, nil, err
		}
		model.SetEntityID(entityID)
		model.SetBusinessID(businessID)
		model.SetVersion(1)
		if err := tx.Create(model).Error; err != nil {
			return 0, nil, fmt.Errorf("failed to create %s %s: %w", entityType, entityID, err)
		}
		return 0, payload, nil

	case models.OpUpdate:
		if entityType == models.EntityTypeLoyaltyEntry {
			return 0, nil, fmt.Errorf("loyalty ledger entries are append-only")
		}
		if err := loadEntity(tx, model, businessID, entityID); err != nil {
			return 0, nil, err
		}
		baseVersion := model.GetVersion()

		queuedPayload := payload
		if entityType == models.EntityTypeInventoryItem {
			merged, err := applyCountDelta(model.(*models.InventoryItem), payload)
			if err != nil {
				return 0, nil, err
			}
			queuedPayload = merged
		}

		if err := mergeInto(model, queuedPayload); err != nil {
			return 0, nil, err
		}
		model.SetEntityID(entityID)
		model.SetBusinessID(businessID)
		model.SetVersion(baseVersion + 1)
		if err := tx.Save(model).Error; err != nil {
			return 0, nil, fmt.Errorf("failed to update %s %s: %w", entityType, entityID, err)
		}
		return baseVersion, queuedPayload, nil

	case models.OpDelete:
		if entityType == models.EntityTypeLoyaltyEntry {
			return 0, nil, fmt.Errorf("loyalty ledger entries are append-only")
		}
		if err := loadEntity(tx, model, businessID, entityID); err != nil {
			return 0, nil, err
		}
		baseVersion := model.GetVersion()
		if err := tx.Delete(model).Error; err != nil {
			return 0, nil, fmt.Errorf("failed to delete %s %s: %w", entityType, entityID, err)
		}
		return baseVersion, payload, nil

	default:
		return 0, nil, fmt.Errorf("unsupported operation: %s", op)
	}
}

// applyCountDelta re-expresses an inventory update as an absolute count
// derived from the additive delta, keeping the delta in the payload so a
// conflict can be rebased onto whatever count the cloud store holds.
func applyCountDelta(item *models.InventoryItem, payload models.JSONB) (models.JSONB, error) {
	delta, ok := numberField(payload, "count_delta")
	if !ok {
		return payload, nil
	}

	merged := make(models.JSONB, len(payload)+1)
	for k, v := range payload {
		merged[k] = v
	}
	merged["count"] = item.Count + delta
	return merged, nil
}

// ApplyRemoteValue upserts (or deletes) a remote-sourced entity value and
// pins the local version to the remote one. Used by the puller and by
// conflict corrections; a remote-sourced write always wins here.
func (s *Store) ApplyRemoteValue(tx *gorm.DB, entityType models.EntityType, entityID string, value json.RawMessage, version int64, deleted bool) error {
	if tx == nil {
		tx = s.db.DB
	}

	model, ok := models.NewEntityFor(entityType)
	if !ok {
		return fmt.Errorf("unsupported entity type: %s", entityType)
	}

	if deleted {
		if err := tx.Where("id = ?", entityID).Delete(model).Error; err != nil {
			return fmt.Errorf("failed to apply remote delete of %s %s: %w", entityType, entityID, err)
		}
		return nil
	}

	if err := json.Unmarshal(value, model); err != nil {
		return fmt.Errorf("failed to decode remote %s value: %w", entityType, err)
	}
	model.SetEntityID(entityID)
	model.SetVersion(version)

	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(model).Error; err != nil {
		return fmt.Errorf("failed to apply remote %s %s: %w", entityType, entityID, err)
	}
	return nil
}

// SetEntityVersion advances the local version after the remote store
// acknowledged a mutation, so the next local change carries the right base
func (s *Store) SetEntityVersion(entityType models.EntityType, entityID string, version int64) error {
	model, ok := models.NewEntityFor(entityType)
	if !ok {
		return fmt.Errorf("unsupported entity type: %s", entityType)
	}
	return s.db.Model(model).Where("id = ?", entityID).Update("version", version).Error
}

// HasOutboundMutation reports whether an entity has a pending or in-flight
// queue entry. The puller defers remote updates for such entities.
func (s *Store) HasOutboundMutation(tx *gorm.DB, entityType models.EntityType, entityID string) (bool, error) {
	if tx == nil {
		tx = s.db.DB
	}
	var count int64
	err := tx.Model(&models.MutationEntry{}).
		Where("entity_type = ? AND entity_id = ? AND status IN ?",
			entityType, entityID, []models.MutationStatus{models.MutationPending, models.MutationInFlight}).
		Count(&count).Error
	return count > 0, err
}

// RecordFailure persists an operator-visible permanent failure
func (s *Store) RecordFailure(failure *models.SyncFailure) error {
	failure.CreatedAt = time.Now().UTC()
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(failure).Error
}

// ListFailures returns unresolved permanent failures, newest first
func (s *Store) ListFailures(businessID string) ([]models.SyncFailure, error) {
	var failures []models.SyncFailure
	err := s.db.Where("business_id = ? AND resolved = false", businessID).
		Order("created_at DESC").
		Find(&failures).Error
	return failures, err
}

// GetFailure loads one permanent failure by id
func (s *Store) GetFailure(id uint) (*models.SyncFailure, error) {
	var failure models.SyncFailure
	if err := s.db.First(&failure, id).Error; err != nil {
		return nil, err
	}
	return &failure, nil
}

// MarkFailureResolved closes out a permanent failure after operator action
func (s *Store) MarkFailureResolved(id uint) error {
	now := time.Now().UTC()
	return s.db.Model(&models.SyncFailure{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"resolved": true, "resolved_at": now}).Error
}

// GetEntityVersion reads the current local version of an entity, 0 if absent
func (s *Store) GetEntityVersion(entityType models.EntityType, entityID string) (int64, error) {
	model, ok := models.NewEntityFor(entityType)
	if !ok {
		return 0, fmt.Errorf("unsupported entity type: %s", entityType)
	}
	err := s.db.Where("id = ?", entityID).First(model).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return model.GetVersion(), nil
}

// loadEntity fetches a row scoped to the business, mapping gorm's not-found
func loadEntity(tx *gorm.DB, model models.SyncableEntity, businessID, entityID string) error {
	err := tx.Where("id = ? AND business_id = ?", entityID, businessID).First(model).Error
	if err == gorm.ErrRecordNotFound {
		return fmt.Errorf("entity %s not found", entityID)
	}
	return err
}

// decodeInto round-trips a JSONB payload into a typed model
func decodeInto(model models.SyncableEntity, payload models.JSONB) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, model); err != nil {
		return fmt.Errorf("payload does not match entity shape: %w", err)
	}
	return nil
}

// mergeInto overlays payload fields onto an existing model, preserving
// everything the payload does not mention
func mergeInto(model models.SyncableEntity, payload models.JSONB) error {
	current, err := json.Marshal(model)
	if err != nil {
		return err
	}
	base := make(map[string]interface{})
	if err := json.Unmarshal(current, &base); err != nil {
		return err
	}
	for k, v := range payload {
		base[k] = v
	}
	raw, err := json.Marshal(base)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, model); err != nil {
		return fmt.Errorf("payload does not match entity shape: %w", err)
	}
	return nil
}

// numberField reads a numeric payload field regardless of JSON decode type
func numberField(payload models.JSONB, key string) (float64, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
