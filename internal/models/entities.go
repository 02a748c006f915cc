package models

import (
	"time"

	"gorm.io/datatypes"
)

// OrderStatus defines the kitchen workflow states of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"     // Taken, not started
	OrderStatusInProgress OrderStatus = "in_progress" // On the line
	OrderStatusReady      OrderStatus = "ready"       // Waiting for pickup
	OrderStatusCompleted  OrderStatus = "completed"   // Handed over
	OrderStatusCancelled  OrderStatus = "cancelled"   // Voided
)

// Rank orders the workflow states. Transitions may only move to an equal or
// higher rank; the conflict resolver rejects anything that would move an
// order backward relative to the remote store.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderStatusPending:
		return 1
	case OrderStatusInProgress:
		return 2
	case OrderStatusReady:
		return 3
	case OrderStatusCompleted, OrderStatusCancelled:
		return 4
	default:
		return 0
	}
}

// Order represents a customer order owned by the local store
type Order struct {
	ID            string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	BusinessID    string      `gorm:"type:varchar(36);not null;index" json:"business_id"`
	OrderNumber   int         `gorm:"index" json:"order_number"`
	CustomerID    *string     `gorm:"type:varchar(36);index" json:"customer_id,omitempty"`
	CustomerName  string      `json:"customer_name"`
	CustomerPhone string      `json:"customer_phone"`
	Status        OrderStatus `gorm:"type:varchar(20);default:'pending';index" json:"order_status"`
	IsPaid        bool        `gorm:"default:false" json:"is_paid"`
	Total         float64     `json:"total"`
	Notes         string      `gorm:"type:text" json:"notes"`

	// Version is bumped on every write, local or remote-sourced. Basis for
	// optimistic conflict detection against the cloud store.
	Version int64 `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (Order) TableName() string {
	return "orders"
}

// OrderItem is one line of an order, including selected modifiers
type OrderItem struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	BusinessID string         `gorm:"type:varchar(36);not null;index" json:"business_id"`
	OrderID    string         `gorm:"type:varchar(36);not null;index" json:"order_id"`
	MenuItemID string         `gorm:"type:varchar(36);index" json:"menu_item_id"`
	Name       string         `json:"name"`
	Quantity   int            `gorm:"default:1" json:"quantity"`
	UnitPrice  float64        `json:"unit_price"`
	Status     OrderStatus    `gorm:"type:varchar(20);default:'pending';index" json:"item_status"`
	Modifiers  datatypes.JSON `json:"modifiers"` // option group selections (milk, size, ...)
	Version    int64          `gorm:"not null;default:1" json:"version"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TableName specifies the table name
func (OrderItem) TableName() string {
	return "order_items"
}

// InventoryItem tracks stock counts for ingredients and sellable units.
// Counts are mutated with additive deltas so concurrent decrements from two
// terminals can both apply.
type InventoryItem struct {
	ID                string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	BusinessID        string    `gorm:"type:varchar(36);not null;index" json:"business_id"`
	Name              string    `gorm:"not null" json:"name"`
	Unit              string    `gorm:"type:varchar(20)" json:"unit"`
	Count             float64   `json:"count"`
	LowStockThreshold float64   `json:"low_stock_threshold"`
	Version           int64     `gorm:"not null;default:1" json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (InventoryItem) TableName() string {
	return "inventory_items"
}

// MenuItem is remote-authoritative catalog data, refreshed by the puller
type MenuItem struct {
	ID          string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	BusinessID  string         `gorm:"type:varchar(36);not null;index" json:"business_id"`
	Name        string         `gorm:"not null" json:"name"`
	Category    string         `gorm:"index" json:"category"`
	Price       float64        `json:"price"`
	IsAvailable bool           `gorm:"default:true" json:"is_available"`
	Options     datatypes.JSON `json:"options"` // option groups and values
	Version     int64          `gorm:"not null;default:1" json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName specifies the table name
func (MenuItem) TableName() string {
	return "menu_items"
}

// LoyaltyLedgerEntry is an append-only points movement. Entries are never
// updated; balance is the fold of the ledger.
type LoyaltyLedgerEntry struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	BusinessID  string    `gorm:"type:varchar(36);not null;index" json:"business_id"`
	CardID      string    `gorm:"type:varchar(36);not null;index" json:"card_id"`
	CustomerID  *string   `gorm:"type:varchar(36);index" json:"customer_id,omitempty"`
	OrderID     *string   `gorm:"type:varchar(36)" json:"order_id,omitempty"`
	PointsDelta int       `gorm:"not null" json:"points_delta"`
	Reason      string    `gorm:"type:varchar(50)" json:"reason"` // purchase, redemption, adjustment
	Version     int64     `gorm:"not null;default:1" json:"version"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName matches the cloud schema's loyalty table
func (LoyaltyLedgerEntry) TableName() string {
	return "loyalty_transactions"
}
