package main

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/mesapos/mesaposgo/internal/config"
	"github.com/mesapos/mesaposgo/internal/database"
	"github.com/mesapos/mesaposgo/internal/models"
	"gorm.io/datatypes"
)

func main() {
	fmt.Println("🌱 mesaPOS Demo Data Seeder")

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	fmt.Println("✅ Connected to database")
	fmt.Println()

	// Run migrations first
	fmt.Println("🔨 Running database migrations...")
	err = db.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
		&models.InventoryItem{},
		&models.MenuItem{},
		&models.LoyaltyLedgerEntry{},
		&models.MutationEntry{},
		&models.IdempotencyRecord{},
		&models.ReconciliationCursor{},
		&models.SyncFailure{},
	)
	if err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	fmt.Println("✅ Migrations complete")
	fmt.Println()

	// Check if data already exists
	var menuCount int64
	db.Model(&models.MenuItem{}).Count(&menuCount)
	if menuCount > 0 {
		fmt.Printf("⚠️  Database already has %d menu items. Clear it first? (y/N): ", menuCount)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("❌ Aborted. Database not modified.")
			return
		}

		// Clear existing data
		fmt.Println("🗑️  Clearing existing data...")
		db.Exec("TRUNCATE TABLE order_items CASCADE")
		db.Exec("TRUNCATE TABLE orders CASCADE")
		db.Exec("TRUNCATE TABLE loyalty_transactions CASCADE")
		db.Exec("TRUNCATE TABLE inventory_items CASCADE")
		db.Exec("TRUNCATE TABLE menu_items CASCADE")
		db.Exec("TRUNCATE TABLE sync_queue CASCADE")
		fmt.Println("✅ Data cleared")
	}

	fmt.Println()
	fmt.Println("📦 Creating demo data...")
	fmt.Println()

	// 1. Menu
	fmt.Println("🍔 Creating menu items...")
	menu := []models.MenuItem{
		{
			ID: uuid.NewString(), BusinessID: cfg.BusinessID,
			Name: "Flat White", Category: "coffee", Price: 4.20, IsAvailable: true,
			Options: datatypes.JSON([]byte(`{"milk":["whole","oat","soy"],"size":["regular","large"]}`)),
		},
		{
			ID: uuid.NewString(), BusinessID: cfg.BusinessID,
			Name: "Breakfast Burrito", Category: "food", Price: 11.50, IsAvailable: true,
		},
		{
			ID: uuid.NewString(), BusinessID: cfg.BusinessID,
			Name: "Almond Croissant", Category: "pastry", Price: 5.00, IsAvailable: true,
		},
	}
	for i := range menu {
		if err := db.Create(&menu[i]).Error; err != nil {
			log.Fatalf("❌ Failed to create menu item: %v", err)
		}
	}
	fmt.Printf("✅ Created %d menu items\n", len(menu))

	// 2. Inventory
	fmt.Println("📦 Creating inventory items...")
	inventory := []models.InventoryItem{
		{ID: uuid.NewString(), BusinessID: cfg.BusinessID, Name: "Oat milk", Unit: "l", Count: 24, LowStockThreshold: 6},
		{ID: uuid.NewString(), BusinessID: cfg.BusinessID, Name: "Espresso beans", Unit: "kg", Count: 12, LowStockThreshold: 3},
		{ID: uuid.NewString(), BusinessID: cfg.BusinessID, Name: "Tortillas", Unit: "pcs", Count: 80, LowStockThreshold: 20},
	}
	for i := range inventory {
		if err := db.Create(&inventory[i]).Error; err != nil {
			log.Fatalf("❌ Failed to create inventory item: %v", err)
		}
	}
	fmt.Printf("✅ Created %d inventory items\n", len(inventory))

	// 3. A sample order with one line
	fmt.Println("🧾 Creating a sample order...")
	order := models.Order{
		ID:           uuid.NewString(),
		BusinessID:   cfg.BusinessID,
		OrderNumber:  1,
		CustomerName: "Walk-in",
		Status:       models.OrderStatusPending,
		Total:        4.20,
	}
	if err := db.Create(&order).Error; err != nil {
		log.Fatalf("❌ Failed to create order: %v", err)
	}
	item := models.OrderItem{
		ID:         uuid.NewString(),
		BusinessID: cfg.BusinessID,
		OrderID:    order.ID,
		MenuItemID: menu[0].ID,
		Name:       menu[0].Name,
		Quantity:   1,
		UnitPrice:  menu[0].Price,
		Status:     models.OrderStatusPending,
		Modifiers:  datatypes.JSON([]byte(`{"milk":"oat","size":"regular"}`)),
	}
	if err := db.Create(&item).Error; err != nil {
		log.Fatalf("❌ Failed to create order item: %v", err)
	}
	fmt.Println("✅ Created order #1 with 1 line")

	fmt.Println()
	fmt.Println("🎉 Demo data ready")
}
