package queue

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Uh-X3L/agentmq/internal/events"
	"github.com/Uh-X3L/agentmq/internal/protocol"
	"github.com/Uh-X3L/agentmq/internal/store"
)

// SendBatch enqueues the messages grouped by destination key. Each group
// commits atomically: either every message for that key lands or none does.
// Groups are independent, so one failed destination never rolls back the
// others; the returned BatchError lists the message ids needing
// resubmission. With batching disabled the messages go out one by one
// through Send.
func (m *Manager) SendBatch(ctx context.Context, msgs []*protocol.AgentMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	if !m.cfg.Batch.EnableBatching {
		berr := NewBatchError()
		for _, msg := range msgs {
			if !m.Send(ctx, msg) {
				key := m.KeyFor(msg.ToAgent, msg.Priority)
				berr.Add(key, []string{msg.ID}, ErrBatchFailed)
			}
		}
		return berr.ErrorOrNil()
	}

	type group struct {
		msgs     []*protocol.AgentMessage
		payloads [][]byte
		ids      []string
	}
	groups := make(map[string]*group)
	order := make([]string, 0, len(msgs))
	berr := NewBatchError()

	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		msg.AppendHop(msg.FromAgent)
		if msg.MaxRetries <= 0 {
			msg.MaxRetries = m.cfg.Queue.MaxRetries
		}
		key := m.KeyFor(msg.ToAgent, msg.Priority)
		payload, err := m.codec.Encode(msg)
		if err != nil {
			m.log.WithError(err).WithField("message_id", msg.ID).Error("Failed to encode message")
			berr.Add(key, []string{msg.ID}, err)
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
			order = append(order, key)
		}
		g.msgs = append(g.msgs, msg)
		g.payloads = append(g.payloads, payload)
		g.ids = append(g.ids, msg.ID)
	}

	var st store.Store = m.fallback
	usingFallback := true
	if m.monitor.Healthy(ctx) {
		st = m.primary
		usingFallback = false
	}

	for _, key := range order {
		g := groups[key]
		if err := st.PushMulti(ctx, key, g.payloads); err != nil {
			qerr := NewQueueError(ErrCodeBatchFailed, "commit batch group", err).WithKey(key)
			if !usingFallback {
				m.monitor.ReportFailure(qerr)
			}
			for _, msg := range g.msgs {
				m.noteSendFailure(msg)
			}
			m.log.WithError(qerr).WithFields(logrus.Fields{
				"key":   key,
				"count": len(g.msgs),
			}).Error("Failed to commit batch group")
			berr.Add(key, g.ids, qerr)
			continue
		}
		if usingFallback {
			m.registry.RecordFallback()
		}
		for _, msg := range g.msgs {
			m.registry.RecordSent(msg.Type.String(), msg.FromAgent)
			m.bus.Publish(events.NewEvent(events.TypeSent, msg.ID, msg.Type.String(), msg.FromAgent, msg.ToAgent))
		}
	}
	return berr.ErrorOrNil()
}

// Batcher accumulates outbound messages and flushes them through SendBatch
// when the batch fills or the flush timeout elapses, whichever comes first.
type Batcher struct {
	mgr     *Manager
	size    int
	timeout time.Duration
	log     *logrus.Logger

	mu      sync.Mutex
	pending []*protocol.AgentMessage
	timer   *time.Timer
	closed  bool
}

// NewBatcher creates a Batcher over the manager using its batch
// configuration.
func NewBatcher(mgr *Manager) *Batcher {
	size := mgr.cfg.Batch.BatchSize
	if size <= 0 {
		size = 10
	}
	timeout := mgr.cfg.Batch.BatchTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Batcher{
		mgr:     mgr,
		size:    size,
		timeout: timeout,
		log:     mgr.log,
	}
}

// Add buffers a message for the next flush. The first message of a batch
// arms the flush timer; reaching the batch size flushes immediately.
func (b *Batcher) Add(ctx context.Context, msg *protocol.AgentMessage) error {
	if msg == nil {
		return nil
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrManagerClosed
	}
	b.pending = append(b.pending, msg)
	if len(b.pending) >= b.size {
		batch := b.takeLocked()
		b.mu.Unlock()
		return b.mgr.SendBatch(ctx, batch)
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.timeout, func() {
			if err := b.Flush(context.Background()); err != nil {
				b.log.WithError(err).Warn("Timed batch flush failed")
			}
		})
	}
	b.mu.Unlock()
	return nil
}

// Flush sends whatever is buffered now.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.takeLocked()
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return b.mgr.SendBatch(ctx, batch)
}

// Close flushes the remaining messages and rejects further Adds.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	batch := b.takeLocked()
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return b.mgr.SendBatch(ctx, batch)
}

// takeLocked hands over the pending batch and disarms the timer. Callers
// hold b.mu.
func (b *Batcher) takeLocked() []*protocol.AgentMessage {
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return batch
}
