package sync

import (
	"context"
	"log"
	"sync"
	"time"
)

// healthProber checks reachability of the cloud store
type healthProber interface {
	Health(ctx context.Context) error
}

// ConnectionMonitor tracks whether the cloud store is reachable. The hinting
// endpoint and the dispatcher can force the state; a background probe keeps
// it honest, so a stale "offline" hint never strands the queue.
type ConnectionMonitor struct {
	mu sync.RWMutex

	prober        healthProber
	probeInterval time.Duration
	probeTimeout  time.Duration

	online       bool
	lastChange   time.Time
	lastSource   string
	successCount int
	failureCount int

	onTransition []func(online bool)

	running  bool
	stopChan chan struct{}
}

// NewConnectionMonitor creates a monitor. The probe interval governs how
// quickly a silent network recovery is noticed.
func NewConnectionMonitor(prober healthProber, probeInterval time.Duration) *ConnectionMonitor {
	return &ConnectionMonitor{
		prober:        prober,
		probeInterval: probeInterval,
		probeTimeout:  10 * time.Second,
		stopChan:      make(chan struct{}),
	}
}

// OnTransition registers a callback fired on every online/offline flip.
// Callbacks run on the monitor's goroutine and must be quick.
func (cm *ConnectionMonitor) OnTransition(fn func(online bool)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onTransition = append(cm.onTransition, fn)
}

// Start begins background probing
func (cm *ConnectionMonitor) Start() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.running {
		return
	}
	cm.running = true
	go cm.probeLoop()
}

// Stop halts background probing
func (cm *ConnectionMonitor) Stop() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.running {
		return
	}
	cm.running = false
	close(cm.stopChan)
}

// IsOnline returns the current connectivity state
func (cm *ConnectionMonitor) IsOnline() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.online
}

// SetOnline forces the connectivity state (connectivity hint from the UI, or
// a dispatcher observation). Transition callbacks fire only on a flip.
func (cm *ConnectionMonitor) SetOnline(online bool, source string) {
	cm.mu.Lock()

	if online {
		cm.successCount++
	} else {
		cm.failureCount++
	}

	if cm.online == online {
		cm.mu.Unlock()
		return
	}

	cm.online = online
	cm.lastChange = time.Now().UTC()
	cm.lastSource = source
	callbacks := make([]func(bool), len(cm.onTransition))
	copy(callbacks, cm.onTransition)
	cm.mu.Unlock()

	if online {
		log.Printf("🔄 Connectivity restored (source: %s)", source)
	} else {
		log.Printf("⚠️ Connectivity lost (source: %s)", source)
	}

	for _, fn := range callbacks {
		fn(online)
	}
}

// Status reports the monitor's state for the status surface
func (cm *ConnectionMonitor) Status() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return map[string]interface{}{
		"online":        cm.online,
		"last_change":   cm.lastChange,
		"last_source":   cm.lastSource,
		"success_count": cm.successCount,
		"failure_count": cm.failureCount,
	}
}

// Probe checks the cloud store once and updates state accordingly
func (cm *ConnectionMonitor) Probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), cm.probeTimeout)
	defer cancel()

	if err := cm.prober.Health(ctx); err != nil {
		cm.SetOnline(false, "health_probe")
		return false
	}

	cm.SetOnline(true, "health_probe")
	return true
}

// probeLoop periodically re-checks reachability
func (cm *ConnectionMonitor) probeLoop() {
	ticker := time.NewTicker(cm.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.Probe()
		case <-cm.stopChan:
			return
		}
	}
}
