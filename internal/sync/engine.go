package sync

import (
	"context"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/shwemill/millsync/internal/config"
)

// Engine owns the background sync lifecycle: the worker draining pass
// requests, the auto-sync ticker, the connectivity monitor and the
// sync-on-startup kick. Domain code never talks to the orchestrator
// directly; it asks the engine for a pass.
type Engine struct {
	mu gosync.RWMutex

	orchestrator *Orchestrator
	monitor      *ConnectivityMonitor
	queue        QueueStore
	config       *config.SyncConfig

	isRunning      bool
	syncInProgress bool
	lastSyncAt     *time.Time
	lastResult     *PassResult

	// observers receive a status snapshot after every pass, used to push
	// live updates to websocket clients.
	observers []func(Status)

	stopChan chan struct{}
	passChan chan passRequest
}

type passRequest struct {
	reason string
}

// NewEngine wires the orchestrator and connectivity monitor into a
// background engine.
func NewEngine(orchestrator *Orchestrator, monitor *ConnectivityMonitor, queue QueueStore, cfg *config.SyncConfig) *Engine {
	e := &Engine{
		orchestrator: orchestrator,
		monitor:      monitor,
		queue:        queue,
		config:       cfg,
		passChan:     make(chan passRequest, 16),
	}
	e.monitor.OnChange(func(online bool) {
		if online {
			e.RequestSync("reconnected")
		}
	})
	return e
}

// Subscribe registers a status observer. Must be called before Start.
func (e *Engine) Subscribe(fn func(Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// Start launches the worker, the connectivity monitor and, when configured,
// the auto-sync loop and startup sync.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isRunning {
		return fmt.Errorf("sync engine already running")
	}
	e.isRunning = true
	// Fresh channel per run so the engine can start again after Stop.
	e.stopChan = make(chan struct{})
	stop := e.stopChan
	log.Println("🔄 Sync Engine starting...")

	e.monitor.Start()

	go e.worker(stop)

	if e.config.AutoSyncEnabled {
		go e.autoSyncLoop(stop)
	}

	if e.config.SyncOnStartup {
		go func() {
			time.Sleep(5 * time.Second) // Wait for initialization
			e.RequestSync("startup")
		}()
	}

	log.Println("✅ Sync Engine started")
	return nil
}

// Stop shuts the engine down. In-flight remote calls are cancelled; their
// records return to pending and retry on the next start.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isRunning {
		return
	}
	log.Println("🛑 Stopping Sync Engine...")
	e.isRunning = false
	close(e.stopChan)
	e.monitor.Stop()
	log.Println("✅ Sync Engine stopped")
}

// RequestSync queues a full pass. Duplicate requests while one is already
// queued or running are dropped, the running pass covers them.
func (e *Engine) RequestSync(reason string) {
	select {
	case e.passChan <- passRequest{reason: reason}:
	default:
		log.Printf("⏳ Sync already queued, dropping request (%s)", reason)
	}
}

// SyncNow runs one pass synchronously and returns its result. Used by the
// manual sync endpoint.
func (e *Engine) SyncNow(ctx context.Context) *PassResult {
	return e.runPass(ctx, "manual")
}

func (e *Engine) worker(stop <-chan struct{}) {
	for {
		select {
		case req := <-e.passChan:
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				select {
				case <-stop:
					cancel()
				case <-done:
				}
			}()
			e.runPass(ctx, req.reason)
			close(done)
			cancel()
		case <-stop:
			return
		}
	}
}

func (e *Engine) runPass(ctx context.Context, reason string) *PassResult {
	e.mu.Lock()
	if e.syncInProgress {
		e.mu.Unlock()
		log.Printf("⏳ Sync already in progress, skipping request (%s)", reason)
		return &PassResult{Timestamp: time.Now()}
	}
	e.syncInProgress = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncInProgress = false
		e.mu.Unlock()
		e.notifyObservers()
	}()

	if !e.monitor.IsOnline() && !e.monitor.CheckNow() {
		log.Printf("📴 Offline, skipping sync pass (%s)", reason)
		return &PassResult{Timestamp: time.Now()}
	}

	log.Printf("🔄 Sync pass starting (%s)", reason)
	start := time.Now()

	if _, err := e.orchestrator.Reconcile(ctx); err != nil {
		log.Printf("⚠️ Reconcile error: %v", err)
	}

	result := e.orchestrator.RunSyncPass(ctx)

	if e.config.PullEnabled && !result.Aborted && ctx.Err() == nil {
		pulled, err := e.orchestrator.PullRemoteChanges(ctx)
		if err != nil {
			log.Printf("⚠️ Pull error: %v", err)
		}
		result.Pulled = pulled
	}

	now := time.Now()
	e.mu.Lock()
	e.lastSyncAt = &now
	e.lastResult = result
	e.mu.Unlock()

	log.Printf("✅ Sync pass completed in %v: %d synced, %d retried, %d failed, %d conflicts, %d pulled",
		time.Since(start), result.Succeeded, result.Retried, result.Failed, result.Conflicted, result.Pulled)
	return result
}

func (e *Engine) autoSyncLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(e.config.AutoSyncInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.RequestSync("auto")
		case <-stop:
			return
		}
	}
}

// Status returns the engine snapshot for the status endpoint.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.RLock()
	s := Status{
		IsRunning:      e.isRunning,
		IsOnline:       e.monitor.IsOnline(),
		SyncInProgress: e.syncInProgress,
		LastSyncAt:     e.lastSyncAt,
		LastResult:     e.lastResult,
	}
	e.mu.RUnlock()

	if count, err := e.queue.PendingCount(ctx); err == nil {
		s.PendingCount = count
	}
	return s
}

func (e *Engine) notifyObservers() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status := e.Status(ctx)

	e.mu.RLock()
	observers := e.observers
	e.mu.RUnlock()

	for _, fn := range observers {
		fn(status)
	}
}
