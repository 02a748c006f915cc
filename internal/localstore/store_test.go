package localstore

import (
	"testing"

	"github.com/mesapos/mesaposgo/internal/models"
)

func TestDecodeInto(t *testing.T) {
	var order models.Order
	payload := models.JSONB{
		"order_status":  "pending",
		"customer_name": "Sam",
		"total":         12.5,
	}

	if err := decodeInto(&order, payload); err != nil {
		t.Fatalf("decodeInto failed: %v", err)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("expected status pending, got %s", order.Status)
	}
	if order.CustomerName != "Sam" || order.Total != 12.5 {
		t.Errorf("unexpected decode result: %+v", order)
	}
}

func TestMergeInto_PreservesUnmentionedFields(t *testing.T) {
	order := models.Order{
		ID:           "order-1",
		CustomerName: "Sam",
		Status:       models.OrderStatusPending,
		Total:        12.5,
		Version:      3,
	}

	if err := mergeInto(&order, models.JSONB{"order_status": "in_progress"}); err != nil {
		t.Fatalf("mergeInto failed: %v", err)
	}

	if order.Status != models.OrderStatusInProgress {
		t.Errorf("expected status updated, got %s", order.Status)
	}
	if order.CustomerName != "Sam" || order.Total != 12.5 {
		t.Error("fields not mentioned in the payload must survive the merge")
	}
}

func TestApplyCountDelta(t *testing.T) {
	item := &models.InventoryItem{ID: "inv-1", Count: 20}

	merged, err := applyCountDelta(item, models.JSONB{"count_delta": float64(-5)})
	if err != nil {
		t.Fatalf("applyCountDelta failed: %v", err)
	}

	if got := merged["count"]; got != float64(15) {
		t.Errorf("expected absolute count 15, got %v", got)
	}
	if got := merged["count_delta"]; got != float64(-5) {
		t.Error("the delta must stay in the payload for conflict rebasing")
	}
}

func TestApplyCountDelta_NoDeltaPassesThrough(t *testing.T) {
	item := &models.InventoryItem{ID: "inv-1", Count: 20}
	payload := models.JSONB{"count": float64(40)}

	merged, err := applyCountDelta(item, payload)
	if err != nil {
		t.Fatalf("applyCountDelta failed: %v", err)
	}
	if got := merged["count"]; got != float64(40) {
		t.Errorf("absolute write must pass through untouched, got %v", got)
	}
}

func TestNumberField(t *testing.T) {
	payload := models.JSONB{
		"float":  float64(1.5),
		"int":    7,
		"string": "nope",
	}

	if v, ok := numberField(payload, "float"); !ok || v != 1.5 {
		t.Errorf("float: got %v %v", v, ok)
	}
	if v, ok := numberField(payload, "int"); !ok || v != 7 {
		t.Errorf("int: got %v %v", v, ok)
	}
	if _, ok := numberField(payload, "string"); ok {
		t.Error("string value must not read as a number")
	}
	if _, ok := numberField(payload, "missing"); ok {
		t.Error("missing key must not read as a number")
	}
}
