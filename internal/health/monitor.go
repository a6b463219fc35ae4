// Package health tracks whether the primary backing store is usable.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the monitor's view of the backing store.
type State string

const (
	// StateUnknown means no probe has completed yet.
	StateUnknown State = "unknown"
	// StateHealthy means the last probe succeeded.
	StateHealthy State = "healthy"
	// StateUnhealthy means a probe or store operation failed; only a fresh
	// successful probe clears it.
	StateUnhealthy State = "unhealthy"
)

// Pinger is the single store capability the monitor needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor gates primary-store usage on a throttled liveness probe. Probes
// run at most once per interval; between probes the cached verdict is
// returned verbatim. Many goroutines read the state, few write it.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	log      *logrus.Logger

	mu        sync.Mutex
	state     State
	lastProbe time.Time
}

// NewMonitor creates a monitor probing the given store at most once per
// interval.
func NewMonitor(pinger Pinger, interval time.Duration, log *logrus.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}
	return &Monitor{
		pinger:   pinger,
		interval: interval,
		log:      log,
		state:    StateUnknown,
	}
}

// Healthy reports whether the primary store is usable right now, probing
// only if the throttle interval has elapsed. An unhealthy verdict persists
// until a fresh probe succeeds; time alone never heals it.
func (m *Monitor) Healthy(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateUnknown && time.Since(m.lastProbe) < m.interval {
		return m.state == StateHealthy
	}
	return m.probeLocked(ctx)
}

// ForceCheck probes immediately, bypassing the throttle. Used on startup and
// when a caller wants to retest a degraded store.
func (m *Monitor) ForceCheck(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probeLocked(ctx)
}

// ReportFailure records a store operation failure, flipping the state to
// unhealthy immediately without waiting for the next probe.
func (m *Monitor) ReportFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateUnhealthy {
		m.log.WithError(err).Warn("backing store operation failed, marking unhealthy")
	}
	m.state = StateUnhealthy
}

// State returns the cached verdict without probing.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) probeLocked(ctx context.Context) bool {
	m.lastProbe = time.Now()
	if err := m.pinger.Ping(ctx); err != nil {
		if m.state != StateUnhealthy {
			m.log.WithError(err).Warn("backing store health check failed")
		}
		m.state = StateUnhealthy
		return false
	}
	if m.state == StateUnhealthy {
		m.log.Info("backing store recovered")
	}
	m.state = StateHealthy
	return true
}
