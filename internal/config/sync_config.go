package config

import (
	"encoding/json"
	"os"
)

// SyncConfig holds synchronization tuning
type SyncConfig struct {
	// ============ BASIC SETTINGS ============
	Enabled       bool `json:"enabled"`
	SyncOnStartup bool `json:"sync_on_startup"`

	// ============ DISPATCH ============
	DispatchInterval    int `json:"dispatch_interval"`      // seconds between idle wakeups
	BatchMaxCount       int `json:"batch_max_count"`        // entries per dispatch batch
	BatchMaxBytes       int `json:"batch_max_bytes"`        // payload bytes per batch
	MaxEntitiesInFlight int `json:"max_entities_in_flight"` // cross-entity parallelism cap
	ParallelWorkers     int `json:"parallel_workers"`
	RequestTimeout      int `json:"request_timeout"` // seconds per remote call

	// ============ RETRY ============
	MaxAttempts    int `json:"max_attempts"`
	BackoffBaseMs  int `json:"backoff_base_ms"`
	BackoffCapMs   int `json:"backoff_cap_ms"`
	BackoffJitter  int `json:"backoff_jitter_pct"` // 0-100, fraction of delay randomized
	GuardRetention int `json:"guard_retention_h"`  // hours before idempotency records evict

	// ============ RECONCILIATION ============
	PullInterval int                         `json:"pull_interval"` // seconds
	PullPageSize int                         `json:"pull_page_size"`
	Entities     map[string]EntitySyncConfig `json:"entities"`
}

// EntitySyncConfig holds sync configuration for a specific entity type
type EntitySyncConfig struct {
	Enabled  bool `json:"enabled"`
	Pull     bool `json:"pull"`     // has a remote-authoritative component
	Priority int  `json:"priority"` // 1-10, where 10 = highest
}

// LoadSyncConfig loads sync configuration from a JSON file if
// SYNC_CONFIG_PATH is set, otherwise from environment defaults
func LoadSyncConfig() *SyncConfig {
	if configPath := os.Getenv("SYNC_CONFIG_PATH"); configPath != "" {
		if cfg, err := loadSyncConfigFromFile(configPath); err == nil {
			return cfg
		}
	}
	return getDefaultSyncConfig()
}

func loadSyncConfigFromFile(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg SyncConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func getDefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Enabled:       getBoolEnv("SYNC_ENABLED", true),
		SyncOnStartup: getBoolEnv("SYNC_ON_STARTUP", true),

		DispatchInterval:    getIntEnv("SYNC_DISPATCH_INTERVAL", 10),
		BatchMaxCount:       getIntEnv("SYNC_BATCH_COUNT", 50),
		BatchMaxBytes:       getIntEnv("SYNC_BATCH_BYTES", 256*1024),
		MaxEntitiesInFlight: getIntEnv("SYNC_MAX_IN_FLIGHT", 8),
		ParallelWorkers:     getIntEnv("SYNC_WORKERS", 4),
		RequestTimeout:      getIntEnv("SYNC_REQUEST_TIMEOUT", 15),

		MaxAttempts:    getIntEnv("SYNC_MAX_ATTEMPTS", 8),
		BackoffBaseMs:  getIntEnv("SYNC_BACKOFF_BASE_MS", 1000),
		BackoffCapMs:   getIntEnv("SYNC_BACKOFF_CAP_MS", 5*60*1000),
		BackoffJitter:  getIntEnv("SYNC_BACKOFF_JITTER", 20),
		GuardRetention: getIntEnv("SYNC_GUARD_RETENTION_H", 72),

		PullInterval: getIntEnv("SYNC_PULL_INTERVAL", 60),
		PullPageSize: getIntEnv("SYNC_PULL_PAGE_SIZE", 500),
		Entities:     getDefaultEntityConfigs(),
	}
}

// getDefaultEntityConfigs returns default entity sync configs.
// Orders and order items are push-heavy; catalog, inventory levels and
// loyalty balances are remote-authoritative and pulled.
func getDefaultEntityConfigs() map[string]EntitySyncConfig {
	return map[string]EntitySyncConfig{
		"order": {
			Enabled:  true,
			Pull:     true,
			Priority: 10,
		},
		"order_item": {
			Enabled:  true,
			Pull:     true,
			Priority: 10,
		},
		"inventory_item": {
			Enabled:  true,
			Pull:     true,
			Priority: 8,
		},
		"menu_item": {
			Enabled:  true,
			Pull:     true,
			Priority: 6,
		},
		"loyalty_ledger_entry": {
			Enabled:  true,
			Pull:     true,
			Priority: 7,
		},
	}
}
