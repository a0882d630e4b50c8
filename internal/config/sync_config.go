package config

// SyncConfig controls the background sync engine.
type SyncConfig struct {
	// Enabled turns the engine on. Everything else works offline-only
	// when false.
	Enabled bool
	// AutoSyncEnabled runs a pass every AutoSyncInterval seconds.
	AutoSyncEnabled  bool
	AutoSyncInterval int
	// SyncOnStartup kicks a pass shortly after boot.
	SyncOnStartup bool
	// PullEnabled merges server-side changes after each push pass.
	PullEnabled bool
	// BatchSize caps how many mutations one selection round transmits.
	BatchSize int
	// HealthCheckInterval is the connectivity probe period in seconds.
	HealthCheckInterval int
	// PurgeSyncedAfterDays removes settled queue records older than this.
	PurgeSyncedAfterDays int
}

func loadSyncConfig() SyncConfig {
	return SyncConfig{
		Enabled:              getBoolEnv("SYNC_ENABLED", true),
		AutoSyncEnabled:      getBoolEnv("SYNC_AUTO_ENABLED", true),
		AutoSyncInterval:     getIntEnv("SYNC_AUTO_INTERVAL", 300),
		SyncOnStartup:        getBoolEnv("SYNC_ON_STARTUP", true),
		PullEnabled:          getBoolEnv("SYNC_PULL_ENABLED", true),
		BatchSize:            getIntEnv("SYNC_BATCH_SIZE", 50),
		HealthCheckInterval:  getIntEnv("SYNC_HEALTH_INTERVAL", 30),
		PurgeSyncedAfterDays: getIntEnv("SYNC_PURGE_AFTER_DAYS", 30),
	}
}
