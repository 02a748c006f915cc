package sync

import (
	"encoding/json"
	"fmt"

	"github.com/mesapos/mesaposgo/internal/models"
)

// ResolutionAction is what the dispatcher should do with a conflicted entry
type ResolutionAction int

const (
	// ResolutionRebase: the mutation was re-expressed against the current
	// remote version and should be pushed again
	ResolutionRebase ResolutionAction = iota
	// ResolutionSettle: the remote store already reflects the intent
	// (duplicate append, replayed create); treat the entry as applied
	ResolutionSettle
	// ResolutionPermanent: irreconcilable; surface for manual action
	ResolutionPermanent
)

// Resolution is the outcome of resolving one version conflict
type Resolution struct {
	Action ResolutionAction

	// Rebased mutation, set for ResolutionRebase
	Payload     models.JSONB
	BaseVersion int64

	// Set for ResolutionPermanent
	Reason string
}

// Resolver applies the per-entity-type conflict policy when the remote
// store's current version differs from a mutation's base version.
type Resolver struct{}

// NewResolver creates a conflict resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve decides what to do with entry given the remote store's current
// version and value. Regardless of the decision, the caller overwrites the
// local copy with the remote value so the terminal converges.
func (r *Resolver) Resolve(entry *models.MutationEntry, currentVersion int64, currentValue json.RawMessage) Resolution {
	switch entry.EntityType {
	case models.EntityTypeLoyaltyEntry:
		// Append-only ledger: a conflict on create means the entry already
		// landed (duplicate append); updates never exist for this type
		return Resolution{Action: ResolutionSettle}

	case models.EntityTypeInventoryItem:
		return r.resolveInventory(entry, currentVersion, currentValue)

	case models.EntityTypeOrder, models.EntityTypeOrderItem:
		return r.resolveOrder(entry, currentVersion, currentValue)

	default:
		// Catalog data: the terminal's write is a correction the cloud has
		// not seen yet; replay it on top of the current version
		return Resolution{Action: ResolutionRebase, Payload: entry.Payload, BaseVersion: currentVersion}
	}
}

// resolveInventory merges concurrent count changes additively: the local
// mutation is re-expressed as its delta on top of whatever count the cloud
// store holds now, so neither side's decrement is lost.
func (r *Resolver) resolveInventory(entry *models.MutationEntry, currentVersion int64, currentValue json.RawMessage) Resolution {
	if entry.Operation == models.OpCreate {
		return Resolution{Action: ResolutionSettle}
	}

	delta, ok := payloadNumber(entry.Payload, "count_delta")
	if !ok {
		// Absolute write (stocktake correction): replay on current version
		return Resolution{Action: ResolutionRebase, Payload: entry.Payload, BaseVersion: currentVersion}
	}

	var remote models.InventoryItem
	if err := json.Unmarshal(currentValue, &remote); err != nil {
		return Resolution{
			Action: ResolutionPermanent,
			Reason: fmt.Sprintf("cannot merge inventory counts: undecodable remote value: %v", err),
		}
	}

	rebased := make(models.JSONB, len(entry.Payload))
	for k, v := range entry.Payload {
		rebased[k] = v
	}
	rebased["count"] = remote.Count + delta

	return Resolution{Action: ResolutionRebase, Payload: rebased, BaseVersion: currentVersion}
}

// resolveOrder enforces monotonic kitchen workflow: a mutation that would
// move an order (or line item) backward relative to the more advanced remote
// state is a permanent failure, not a silent overwrite.
func (r *Resolver) resolveOrder(entry *models.MutationEntry, currentVersion int64, currentValue json.RawMessage) Resolution {
	if entry.Operation == models.OpCreate {
		// Replayed create; the order already exists remotely
		return Resolution{Action: ResolutionSettle}
	}

	if entry.Operation == models.OpDelete {
		return Resolution{
			Action: ResolutionPermanent,
			Reason: "order changed remotely after local void; needs manual reconciliation",
		}
	}

	desired, hasStatus := statusFromPayload(entry.EntityType, entry.Payload)
	if !hasStatus {
		// Non-workflow fields (customer name, notes): replay on current
		return Resolution{Action: ResolutionRebase, Payload: entry.Payload, BaseVersion: currentVersion}
	}

	remoteStatus, err := statusFromValue(entry.EntityType, currentValue)
	if err != nil {
		return Resolution{
			Action: ResolutionPermanent,
			Reason: fmt.Sprintf("cannot compare order workflow state: %v", err),
		}
	}

	if desired.Rank() < remoteStatus.Rank() {
		return Resolution{
			Action: ResolutionPermanent,
			Reason: fmt.Sprintf("workflow regression: local %s behind remote %s", desired, remoteStatus),
		}
	}
	if desired != remoteStatus && desired.Rank() == remoteStatus.Rank() {
		// Both closed but differently (completed vs cancelled). Neither
		// outcome may overwrite the other; a person has to decide
		return Resolution{
			Action: ResolutionPermanent,
			Reason: fmt.Sprintf("order closed both ways: local %s vs remote %s", desired, remoteStatus),
		}
	}

	return Resolution{Action: ResolutionRebase, Payload: entry.Payload, BaseVersion: currentVersion}
}

// statusFromPayload extracts the targeted workflow status from a mutation
// payload, using the wire field name for the entity type
func statusFromPayload(entityType models.EntityType, payload models.JSONB) (models.OrderStatus, bool) {
	field := "order_status"
	if entityType == models.EntityTypeOrderItem {
		field = "item_status"
	}
	v, ok := payload[field]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return models.OrderStatus(s), true
}

// statusFromValue extracts the current workflow status from a remote value
func statusFromValue(entityType models.EntityType, value json.RawMessage) (models.OrderStatus, error) {
	if entityType == models.EntityTypeOrderItem {
		var item models.OrderItem
		if err := json.Unmarshal(value, &item); err != nil {
			return "", err
		}
		return item.Status, nil
	}

	var order models.Order
	if err := json.Unmarshal(value, &order); err != nil {
		return "", err
	}
	return order.Status, nil
}

// payloadNumber reads a numeric payload field regardless of decode type
func payloadNumber(payload models.JSONB, key string) (float64, bool) {
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
