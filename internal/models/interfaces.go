package models

// SyncableEntity is implemented by every business entity that flows through
// the sync engine. The local store uses it to apply writes generically.
type SyncableEntity interface {
	GetEntityID() string
	SetEntityID(id string)
	SetBusinessID(id string)
	GetVersion() int64
	SetVersion(v int64)
}

func (o *Order) GetEntityID() string      { return o.ID }
func (o *Order) SetEntityID(id string)    { o.ID = id }
func (o *Order) SetBusinessID(id string)  { o.BusinessID = id }
func (o *Order) GetVersion() int64        { return o.Version }
func (o *Order) SetVersion(v int64)       { o.Version = v }

func (i *OrderItem) GetEntityID() string     { return i.ID }
func (i *OrderItem) SetEntityID(id string)   { i.ID = id }
func (i *OrderItem) SetBusinessID(id string) { i.BusinessID = id }
func (i *OrderItem) GetVersion() int64       { return i.Version }
func (i *OrderItem) SetVersion(v int64)      { i.Version = v }

func (i *InventoryItem) GetEntityID() string     { return i.ID }
func (i *InventoryItem) SetEntityID(id string)   { i.ID = id }
func (i *InventoryItem) SetBusinessID(id string) { i.BusinessID = id }
func (i *InventoryItem) GetVersion() int64       { return i.Version }
func (i *InventoryItem) SetVersion(v int64)      { i.Version = v }

func (m *MenuItem) GetEntityID() string     { return m.ID }
func (m *MenuItem) SetEntityID(id string)   { m.ID = id }
func (m *MenuItem) SetBusinessID(id string) { m.BusinessID = id }
func (m *MenuItem) GetVersion() int64       { return m.Version }
func (m *MenuItem) SetVersion(v int64)      { m.Version = v }

func (l *LoyaltyLedgerEntry) GetEntityID() string     { return l.ID }
func (l *LoyaltyLedgerEntry) SetEntityID(id string)   { l.ID = id }
func (l *LoyaltyLedgerEntry) SetBusinessID(id string) { l.BusinessID = id }
func (l *LoyaltyLedgerEntry) GetVersion() int64       { return l.Version }
func (l *LoyaltyLedgerEntry) SetVersion(v int64)      { l.Version = v }

// NewEntityFor returns an empty model for an entity type
func NewEntityFor(t EntityType) (SyncableEntity, bool) {
	switch t {
	case EntityTypeOrder:
		return &Order{}, true
	case EntityTypeOrderItem:
		return &OrderItem{}, true
	case EntityTypeInventoryItem:
		return &InventoryItem{}, true
	case EntityTypeMenuItem:
		return &MenuItem{}, true
	case EntityTypeLoyaltyEntry:
		return &LoyaltyLedgerEntry{}, true
	default:
		return nil, false
	}
}
