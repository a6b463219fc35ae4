// Package queue implements the priority-aware, at-least-once message queue
// that agents send and receive through. It rides on a primary store (Redis)
// and degrades silently to an in-process fallback when the primary is
// unreachable.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Uh-X3L/agentmq/internal/config"
	"github.com/Uh-X3L/agentmq/internal/events"
	"github.com/Uh-X3L/agentmq/internal/health"
	"github.com/Uh-X3L/agentmq/internal/metrics"
	"github.com/Uh-X3L/agentmq/internal/protocol"
	"github.com/Uh-X3L/agentmq/internal/store"
)

const (
	// StandardKeyPrefix holds per-agent standard traffic.
	StandardKeyPrefix = "agent_queue:"
	// PriorityKeyPrefix holds per-agent priority traffic.
	PriorityKeyPrefix = "agent_priority:"

	// pollInterval is how often a blocking Receive re-checks the queues.
	pollInterval = 200 * time.Millisecond

	// processedRetention is how long acknowledged ids are remembered for
	// idempotent MarkProcessed calls.
	processedRetention = time.Hour

	// cleanupConcurrency bounds the parallel key sweep in CleanupExpired.
	cleanupConcurrency = 8
)

// Outcome is the result a consumer reports for a delivered message.
type Outcome string

const (
	// OutcomeProcessed acknowledges successful processing.
	OutcomeProcessed Outcome = "processed"
	// OutcomeFailed reports a processing failure; the message is retried
	// while its retry budget lasts.
	OutcomeFailed Outcome = "failed"
)

// Manager is the queue facade. It owns the fallback store, the health
// monitor, the metrics registry and the event bus; the primary store is
// handed in and owned by the Manager after construction.
type Manager struct {
	cfg      *config.Config
	primary  store.Store
	fallback *store.Memory
	monitor  *health.Monitor
	registry *metrics.Registry
	codec    *Codec
	bus      *events.Bus
	log      *logrus.Logger

	mu        sync.Mutex
	inflight  map[string]*protocol.AgentMessage
	processed map[string]time.Time
	closed    bool

	now func() time.Time
}

// New creates a Manager over the given primary store.
func New(cfg *config.Config, primary store.Store, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		cfg:       cfg,
		primary:   primary,
		fallback:  store.NewMemory(cfg.Queue.DefaultTTL),
		monitor:   health.NewMonitor(primary, cfg.Health.CheckInterval, log),
		registry:  metrics.NewRegistry(),
		codec:     NewCodec(cfg.Queue.EnableCompression),
		bus:       events.NewBus(0),
		log:       log,
		inflight:  make(map[string]*protocol.AgentMessage),
		processed: make(map[string]time.Time),
		now:       time.Now,
	}
}

// KeyFor returns the queue key a message for the agent at the given priority
// lands on.
func (m *Manager) KeyFor(agentID string, p protocol.Priority) string {
	if p <= m.cfg.Queue.PriorityThreshold {
		return PriorityKeyPrefix + agentID
	}
	return StandardKeyPrefix + agentID
}

// noteSendFailure charges one retry to the message's budget. Once the
// budget is spent a further failure marks the message failed instead of
// pushing the count past its ceiling.
func (m *Manager) noteSendFailure(msg *protocol.AgentMessage) {
	if msg.CanRetry() {
		msg.IncrementRetry()
		return
	}
	msg.SetStatus(protocol.StatusFailed)
}

// Send enqueues a message for its recipient. It never panics and never
// surfaces an error: the return value reports whether the message was
// stored. On a primary-store failure the message's retry count is bumped so
// the caller can resubmit, and the store is reported unhealthy so later
// sends go to the fallback.
func (m *Manager) Send(ctx context.Context, msg *protocol.AgentMessage) bool {
	if msg == nil {
		return false
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	msg.AppendHop(msg.FromAgent)
	if msg.MaxRetries <= 0 {
		msg.MaxRetries = m.cfg.Queue.MaxRetries
	}

	payload, err := m.codec.Encode(msg)
	if err != nil {
		m.log.WithError(err).WithField("message_id", msg.ID).Error("Failed to encode message")
		return false
	}

	key := m.KeyFor(msg.ToAgent, msg.Priority)
	if m.monitor.Healthy(ctx) {
		if err := m.primary.Push(ctx, key, payload); err != nil {
			qerr := NewQueueError(ErrCodePushFailed, "push message", err).WithKey(key).WithMessageID(msg.ID)
			m.monitor.ReportFailure(qerr)
			m.noteSendFailure(msg)
			m.log.WithError(qerr).WithFields(logrus.Fields{
				"message_id": msg.ID,
				"key":        key,
			}).Error("Failed to push message")
			return false
		}
	} else {
		if err := m.fallback.Push(ctx, key, payload); err != nil {
			m.noteSendFailure(msg)
			m.log.WithError(NewQueueError(ErrCodePushFailed, "push message to fallback", err).WithKey(key).WithMessageID(msg.ID)).Error("Failed to push message")
			return false
		}
		m.registry.RecordFallback()
	}

	m.registry.RecordSent(msg.Type.String(), msg.FromAgent)
	m.bus.Publish(events.NewEvent(events.TypeSent, msg.ID, msg.Type.String(), msg.FromAgent, msg.ToAgent))
	m.log.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"type":       msg.Type,
		"to":         msg.ToAgent,
		"priority":   msg.Priority,
	}).Debug("Message sent")
	return true
}

// Lane selects which queue lanes a Receive call consults.
type Lane int

const (
	// LaneBoth drains the priority lane first, then the standard lane.
	LaneBoth Lane = iota
	// LanePriority drains only the priority lane.
	LanePriority
	// LaneStandard drains only the standard lane.
	LaneStandard
)

// ReceiveOption tunes a Receive call.
type ReceiveOption func(*receiveOptions)

type receiveOptions struct {
	lane  Lane
	block time.Duration
}

// WithLane restricts the call to one queue lane.
func WithLane(l Lane) ReceiveOption {
	return func(o *receiveOptions) { o.lane = l }
}

// WithBlock keeps polling until a message arrives or the duration elapses.
func WithBlock(d time.Duration) ReceiveOption {
	return func(o *receiveOptions) { o.block = d }
}

// Receive pops up to limit messages addressed to the agent, priority lane
// first, oldest first within a lane. Delivered messages move to processing
// and stay tracked until MarkProcessed; expired and unreadable records are
// discarded on the way. With no block option the call returns immediately,
// possibly empty.
func (m *Manager) Receive(ctx context.Context, agentID string, limit int, opts ...ReceiveOption) []*protocol.AgentMessage {
	var o receiveOptions
	for _, opt := range opts {
		opt(&o)
	}
	if limit <= 0 {
		limit = 1
	}

	deadline := m.now().Add(o.block)
	for {
		msgs := m.drain(ctx, agentID, limit, o.lane)
		if len(msgs) > 0 || o.block <= 0 || m.now().After(deadline) {
			return msgs
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pollInterval):
		}
	}
}

// drain performs one non-blocking pass over the agent's lanes.
func (m *Manager) drain(ctx context.Context, agentID string, limit int, lane Lane) []*protocol.AgentMessage {
	var keys []string
	switch lane {
	case LanePriority:
		keys = []string{PriorityKeyPrefix + agentID}
	case LaneStandard:
		keys = []string{StandardKeyPrefix + agentID}
	default:
		keys = []string{PriorityKeyPrefix + agentID, StandardKeyPrefix + agentID}
	}

	// Messages parked in the fallback during an outage are drained even
	// after the primary recovers, so nothing is stranded there.
	stores := []store.Store{m.fallback}
	if m.monitor.Healthy(ctx) {
		stores = []store.Store{m.primary, m.fallback}
	}

	var out []*protocol.AgentMessage
	for _, key := range keys {
		for _, st := range stores {
			for len(out) < limit {
				payload, err := st.Pop(ctx, key)
				if err != nil {
					qerr := NewQueueError(ErrCodePopFailed, "pop message", err).WithKey(key)
					m.monitor.ReportFailure(qerr)
					m.log.WithError(qerr).WithField("key", key).Error("Failed to pop message")
					break
				}
				if payload == nil {
					break
				}
				msg, err := m.codec.Decode(payload)
				if err != nil {
					m.registry.RecordDropped()
					m.log.WithError(err).WithField("key", key).Warn("Dropping unreadable record")
					continue
				}
				if msg.IsExpired(m.now()) {
					msg.SetStatus(protocol.StatusExpired)
					m.registry.RecordExpired()
					m.bus.Publish(events.NewEvent(events.TypeExpired, msg.ID, msg.Type.String(), msg.FromAgent, msg.ToAgent))
					continue
				}
				msg.SetStatus(protocol.StatusProcessing)
				m.mu.Lock()
				m.inflight[msg.ID] = msg
				m.mu.Unlock()
				m.registry.RecordReceived()
				m.bus.Publish(events.NewEvent(events.TypeReceived, msg.ID, msg.Type.String(), msg.FromAgent, msg.ToAgent))
				out = append(out, msg)
			}
		}
	}
	return out
}

// MarkProcessed records the outcome for a delivered message. A repeated call
// for an already settled message is a no-op returning true; an unknown id
// returns false. A failed outcome re-enqueues the message at its original
// priority while its retry budget lasts.
func (m *Manager) MarkProcessed(ctx context.Context, messageID, agentID string, outcome Outcome) bool {
	m.mu.Lock()
	if _, done := m.processed[messageID]; done {
		m.mu.Unlock()
		return true
	}
	msg, ok := m.inflight[messageID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.inflight, messageID)
	m.processed[messageID] = m.now()
	m.mu.Unlock()

	log := m.log.WithFields(logrus.Fields{
		"message_id": messageID,
		"agent_id":   agentID,
		"outcome":    outcome,
	})

	if outcome != OutcomeFailed {
		msg.SetStatus(protocol.StatusProcessed)
		m.registry.RecordProcessed()
		m.bus.Publish(events.NewEvent(events.TypeProcessed, msg.ID, msg.Type.String(), msg.FromAgent, msg.ToAgent))
		log.Debug("Message processed")
		return true
	}

	if msg.CanRetry() {
		// The id must accept a fresh MarkProcessed after redelivery.
		m.mu.Lock()
		delete(m.processed, messageID)
		m.mu.Unlock()

		msg.IncrementRetry()
		msg.SetStatus(protocol.StatusPending)
		m.registry.RecordRetry()
		if m.requeue(ctx, msg) {
			log.WithField("retry_count", msg.RetryCount).Info("Message re-enqueued for retry")
			return true
		}
		log.Warn("Failed to re-enqueue message for retry")
	}

	msg.SetStatus(protocol.StatusFailed)
	m.registry.RecordFailed()
	m.bus.Publish(events.NewEvent(events.TypeFailed, msg.ID, msg.Type.String(), msg.FromAgent, msg.ToAgent))
	log.Warn("Message failed permanently")
	return true
}

// requeue puts a message back on its lane without counting it as a new send.
func (m *Manager) requeue(ctx context.Context, msg *protocol.AgentMessage) bool {
	payload, err := m.codec.Encode(msg)
	if err != nil {
		return false
	}
	key := m.KeyFor(msg.ToAgent, msg.Priority)
	if m.monitor.Healthy(ctx) {
		err := m.primary.Push(ctx, key, payload)
		if err == nil {
			return true
		}
		m.monitor.ReportFailure(NewQueueError(ErrCodePushFailed, "requeue message", err).WithKey(key).WithMessageID(msg.ID))
	}
	if err := m.fallback.Push(ctx, key, payload); err != nil {
		return false
	}
	m.registry.RecordFallback()
	return true
}

// AgentDepth is the queue depth for one agent, split by lane.
type AgentDepth struct {
	Priority int64 `json:"priority"`
	Standard int64 `json:"standard"`
}

// Total returns the combined depth.
func (d AgentDepth) Total() int64 { return d.Priority + d.Standard }

// Stats is a point-in-time view of the queue.
type Stats struct {
	// Mode is "primary" when the backing store is healthy, "fallback"
	// otherwise.
	Mode string `json:"mode"`
	// Connected reports primary-store liveness.
	Connected bool `json:"connected"`
	// TotalDepth is the number of queued messages across all agents.
	TotalDepth int64 `json:"total_depth"`
	// Agents maps agent ids to their per-lane depths.
	Agents map[string]AgentDepth `json:"agents"`
	// Inflight is the number of delivered, unacknowledged messages.
	Inflight int `json:"inflight"`
	// Counters is the lifetime counter snapshot.
	Counters metrics.Snapshot `json:"counters"`
}

// Stats gathers queue depths and counters. Depths cover both stores so
// messages parked in the fallback keep showing up.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	connected := m.monitor.Healthy(ctx)
	mode := "fallback"
	if connected {
		mode = "primary"
	}

	m.mu.Lock()
	inflight := len(m.inflight)
	m.mu.Unlock()

	s := &Stats{
		Mode:      mode,
		Connected: connected,
		Agents:    make(map[string]AgentDepth),
		Inflight:  inflight,
		Counters:  m.registry.Snapshot(),
	}

	stores := []store.Store{m.fallback}
	if connected {
		stores = append(stores, m.primary)
	}
	for _, st := range stores {
		for _, prefix := range []string{PriorityKeyPrefix, StandardKeyPrefix} {
			keys, err := st.Keys(ctx, prefix)
			if err != nil {
				return nil, NewQueueError(ErrCodeStoreUnavailable, "list queue keys", err)
			}
			for _, key := range keys {
				n, err := st.Len(ctx, key)
				if err != nil {
					return nil, NewQueueError(ErrCodeStoreUnavailable, "measure queue depth", err).WithKey(key)
				}
				agent := key[len(prefix):]
				d := s.Agents[agent]
				if prefix == PriorityKeyPrefix {
					d.Priority += n
				} else {
					d.Standard += n
				}
				s.Agents[agent] = d
				s.TotalDepth += n
			}
		}
	}
	return s, nil
}

// CleanupExpired sweeps every queue key in both stores, dropping records
// that are expired or unreadable, and prunes the acknowledged-id set. It
// returns the number of records removed.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	type target struct {
		st  store.Store
		key string
	}
	var targets []target

	stores := []store.Store{m.fallback}
	if m.monitor.Healthy(ctx) {
		stores = append(stores, m.primary)
	}
	for _, st := range stores {
		for _, prefix := range []string{PriorityKeyPrefix, StandardKeyPrefix} {
			keys, err := st.Keys(ctx, prefix)
			if err != nil {
				return 0, NewQueueError(ErrCodeStoreUnavailable, "list queue keys", err)
			}
			for _, key := range keys {
				targets = append(targets, target{st: st, key: key})
			}
		}
	}

	var (
		mu      sync.Mutex
		removed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupConcurrency)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			entries, err := t.st.Entries(gctx, t.key)
			if err != nil {
				return NewQueueError(ErrCodeStoreUnavailable, "read queue entries", err).WithKey(t.key)
			}
			kept := make([][]byte, 0, len(entries))
			dropped := 0
			for _, payload := range entries {
				msg, err := m.codec.Decode(payload)
				if err != nil {
					m.registry.RecordDropped()
					dropped++
					continue
				}
				if msg.IsExpired(m.now()) {
					m.registry.RecordExpired()
					m.bus.Publish(events.NewEvent(events.TypeExpired, msg.ID, msg.Type.String(), msg.FromAgent, msg.ToAgent))
					dropped++
					continue
				}
				kept = append(kept, payload)
			}
			if dropped == 0 {
				return nil
			}
			if len(kept) == 0 {
				if err := t.st.Remove(gctx, t.key); err != nil {
					return NewQueueError(ErrCodeStoreUnavailable, "remove drained queue", err).WithKey(t.key)
				}
			} else if err := t.st.Replace(gctx, t.key, kept); err != nil {
				return NewQueueError(ErrCodeStoreUnavailable, "rewrite queue entries", err).WithKey(t.key)
			}
			mu.Lock()
			removed += dropped
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return removed, err
	}

	cutoff := m.now().Add(-processedRetention)
	m.mu.Lock()
	for id, at := range m.processed {
		if at.Before(cutoff) {
			delete(m.processed, id)
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.log.WithField("removed", removed).Info("Expired messages cleaned up")
	}
	return removed, nil
}

// Subscribe returns a channel of queue lifecycle events. An empty type list
// subscribes to everything.
func (m *Manager) Subscribe(types ...events.Type) <-chan *events.Event {
	return m.bus.Subscribe(types...)
}

// Unsubscribe releases a Subscribe channel.
func (m *Manager) Unsubscribe(ch <-chan *events.Event) {
	m.bus.Unsubscribe(ch)
}

// Metrics returns the counter registry, for exporter wiring.
func (m *Manager) Metrics() *metrics.Registry { return m.registry }

// Health returns the store health monitor.
func (m *Manager) Health() *health.Monitor { return m.monitor }

// Close shuts down the event bus and both stores.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.bus.Close()
	merr := &MultiError{}
	if err := m.primary.Close(); err != nil {
		merr.Add(fmt.Errorf("close primary store: %w", err))
	}
	if err := m.fallback.Close(); err != nil {
		merr.Add(fmt.Errorf("close fallback store: %w", err))
	}
	return merr.ErrorOrNil()
}
