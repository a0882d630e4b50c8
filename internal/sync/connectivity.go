package sync

import (
	"context"
	"log"
	gosync "sync"
	"time"

	"github.com/shwemill/millsync/internal/remote"
)

// ConnectivityStatus tracks the health of the remote endpoint.
type ConnectivityStatus struct {
	IsOnline     bool       `json:"isOnline"`
	LastCheck    time.Time  `json:"lastCheck"`
	LastSuccess  *time.Time `json:"lastSuccess,omitempty"`
	LastFailure  *time.Time `json:"lastFailure,omitempty"`
	SuccessCount int        `json:"successCount"`
	FailureCount int        `json:"failureCount"`
}

// ConnectivityMonitor probes the server health endpoint on an interval and
// notifies subscribers on offline/online transitions. Sync passes run only
// when it reports online; everything else keeps working offline.
type ConnectivityMonitor struct {
	mu gosync.RWMutex

	api      remote.API
	interval time.Duration
	status   ConnectivityStatus

	onChange []func(online bool)

	running  bool
	stopChan chan struct{}
}

// NewConnectivityMonitor creates a monitor probing at the given interval.
func NewConnectivityMonitor(api remote.API, interval time.Duration) *ConnectivityMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ConnectivityMonitor{
		api:      api,
		interval: interval,
	}
}

// OnChange registers a callback fired on every offline/online transition.
// Must be called before Start.
func (cm *ConnectivityMonitor) OnChange(fn func(online bool)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onChange = append(cm.onChange, fn)
}

// Start begins health checking.
func (cm *ConnectivityMonitor) Start() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.running {
		return
	}
	cm.running = true
	// Fresh channel per run so the monitor can start again after Stop.
	cm.stopChan = make(chan struct{})
	go cm.healthCheckLoop(cm.stopChan)
}

// Stop stops health checking.
func (cm *ConnectivityMonitor) Stop() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.running {
		return
	}
	cm.running = false
	close(cm.stopChan)
}

// IsOnline reports the last known reachability of the server.
func (cm *ConnectivityMonitor) IsOnline() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.status.IsOnline
}

// Status returns a copy of the current connectivity state.
func (cm *ConnectivityMonitor) Status() ConnectivityStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.status
}

// CheckNow runs one probe immediately instead of waiting for the ticker.
func (cm *ConnectivityMonitor) CheckNow() bool {
	return cm.probe()
}

func (cm *ConnectivityMonitor) healthCheckLoop(stop <-chan struct{}) {
	// Probe once right away so the first sync pass doesn't wait a full
	// interval to learn we are online.
	cm.probe()

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.probe()
		case <-stop:
			return
		}
	}
}

func (cm *ConnectivityMonitor) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := cm.api.Health(ctx)
	now := time.Now()

	cm.mu.Lock()
	wasOnline := cm.status.IsOnline
	cm.status.LastCheck = now
	if err != nil {
		cm.status.IsOnline = false
		cm.status.LastFailure = &now
		cm.status.FailureCount++
	} else {
		cm.status.IsOnline = true
		cm.status.LastSuccess = &now
		cm.status.SuccessCount++
	}
	online := cm.status.IsOnline
	callbacks := cm.onChange
	cm.mu.Unlock()

	if online != wasOnline {
		if online {
			log.Printf("🌐 Server reachable, back online")
		} else {
			log.Printf("⚠️ Server unreachable, switching to offline mode: %v", err)
		}
		for _, fn := range callbacks {
			fn(online)
		}
	}
	return online
}
