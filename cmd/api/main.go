package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/shwemill/millsync/internal/config"
	"github.com/shwemill/millsync/internal/database"
	"github.com/shwemill/millsync/internal/handlers"
	"github.com/shwemill/millsync/internal/ledger"
	"github.com/shwemill/millsync/internal/models"
	"github.com/shwemill/millsync/internal/remote"
	"github.com/shwemill/millsync/internal/store"
	"github.com/shwemill/millsync/internal/sync"
	"github.com/shwemill/millsync/internal/utils"
	"github.com/shwemill/millsync/internal/websocket"
)

func main() {
	// 1. Load configuration and device identity
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := utils.LoadOrGenerateDeviceIdentity(); err != nil {
		log.Fatalf("Failed to initialize device identity: %v", err)
	}
	log.Printf("🏷️  Device instance: %s", utils.GetDeviceIdentity().InstanceID)

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// 2. Initialize database (embedded or external PostgreSQL)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema (Critical for Zero-Config)
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		&models.User{},
		&models.Customer{},
		&models.InventoryItem{},
		&models.StockMovement{},
		&models.Transaction{},
		&models.TransactionItem{},
		&models.Payment{},
		&models.MillingRecord{},

		// Sync tables
		&models.MutationRecord{},
		&models.SyncState{},
	)
	if err != nil {
		log.Printf("⚠️ Migration warning: %v", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	if err := seedAdminUser(db.DB); err != nil {
		log.Fatalf("Failed to seed admin user: %v", err)
	}

	// 4. Wire the sync engine
	log.Println("🔄 Initializing Sync Engine...")
	apiClient := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIToken, logger)
	queueStore := store.NewQueueStore(db.DB)
	ledgerStore := store.NewLedgerStore(db.DB, logger)
	orchestrator := sync.NewOrchestrator(queueStore, ledgerStore, apiClient, cfg.Sync.BatchSize, logger)
	monitor := sync.NewConnectivityMonitor(apiClient, time.Duration(cfg.Sync.HealthCheckInterval)*time.Second)
	engine := sync.NewEngine(orchestrator, monitor, queueStore, &cfg.Sync)

	hub := websocket.NewHub()
	go hub.Run()
	engine.Subscribe(func(s sync.Status) {
		hub.Broadcast("sync_status", s)
	})

	svc := ledger.NewService(db.DB, logger)
	svc.SetNotify(func() {
		if cfg.Sync.Enabled {
			engine.RequestSync("mutation")
		}
	})

	if cfg.Sync.Enabled {
		if err := engine.Start(); err != nil {
			log.Printf("⚠️ Sync Engine: Failed to start: %v", err)
		} else {
			log.Println("✅ Sync Engine: Started successfully")
		}
	} else {
		log.Println("📴 Sync disabled, running offline-only")
	}

	// Clean out settled queue records past their retention window.
	if cfg.Sync.PurgeSyncedAfterDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.Sync.PurgeSyncedAfterDays)
		if purged, err := queueStore.PurgeSynced(context.Background(), cutoff); err != nil {
			log.Printf("⚠️ Queue purge error: %v", err)
		} else if purged > 0 {
			log.Printf("🧹 Purged %d settled queue records", purged)
		}
	}

	// 5. Set up HTTP router
	router := handlers.NewRouter(handlers.RouterDeps{
		DB:        db.DB,
		Service:   svc,
		Engine:    engine,
		Queue:     queueStore,
		Hub:       hub,
		JWTSecret: cfg.JWTSecret,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// 6. Start server with graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("⚠️  Received signal: %v. Shutting down gracefully...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if cfg.Sync.Enabled {
		engine.Stop()
	}

	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}

// seedAdminUser creates the initial operator account on first boot so the
// device is usable before it ever reaches the server.
func seedAdminUser(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "changeme"
		log.Println("⚠️  ADMIN_PASSWORD not set, using default credentials admin/changeme")
	}

	admin := &models.User{
		Username:    "admin",
		DisplayName: "Administrator",
		Role:        "admin",
		IsActive:    true,
	}
	if err := admin.SetPassword(password); err != nil {
		return err
	}
	if err := db.Create(admin).Error; err != nil {
		return err
	}
	log.Println("👤 Seeded initial admin user")
	return nil
}
