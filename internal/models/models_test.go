package models

import (
	"testing"
)

func TestOrderStatusRank_Monotonic(t *testing.T) {
	ordered := []OrderStatus{
		OrderStatusPending,
		OrderStatusInProgress,
		OrderStatusReady,
		OrderStatusCompleted,
	}

	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("%s should rank above %s", ordered[i], ordered[i-1])
		}
	}

	// Cancelled and completed are both closed states of equal rank
	if OrderStatusCancelled.Rank() != OrderStatusCompleted.Rank() {
		t.Error("cancelled and completed should share the closed rank")
	}

	// Unknown statuses rank below everything, so they can never overwrite
	if OrderStatus("garbage").Rank() >= OrderStatusPending.Rank() {
		t.Error("unknown status must rank below pending")
	}
}

func TestJSONB_ScanAndValue(t *testing.T) {
	var j JSONB
	if err := j.Scan([]byte(`{"count":12.5,"name":"oat milk"}`)); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if j["name"] != "oat milk" || j["count"] != 12.5 {
		t.Errorf("unexpected scan result: %v", j)
	}

	// Nil database value becomes an empty map, not nil
	var empty JSONB
	if err := empty.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if empty == nil {
		t.Error("expected an initialized empty map")
	}

	// Empty map serializes to an object, not null
	out, err := JSONB{}.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if string(out.([]byte)) != "{}" {
		t.Errorf("expected {}, got %s", out)
	}
}

func TestNewEntityFor(t *testing.T) {
	for _, entityType := range []EntityType{
		EntityTypeOrder, EntityTypeOrderItem, EntityTypeInventoryItem,
		EntityTypeMenuItem, EntityTypeLoyaltyEntry,
	} {
		model, ok := NewEntityFor(entityType)
		if !ok || model == nil {
			t.Errorf("expected a model for %s", entityType)
			continue
		}

		model.SetEntityID("e-1")
		model.SetBusinessID("b-1")
		model.SetVersion(9)
		if model.GetEntityID() != "e-1" || model.GetVersion() != 9 {
			t.Errorf("%s: accessor roundtrip failed", entityType)
		}
	}

	if _, ok := NewEntityFor("bogus"); ok {
		t.Error("unknown entity type must not produce a model")
	}
}
