// Package metrics keeps in-process counters for the messaging substrate.
// Counters only ever increase; a process restart is the only reset.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Registry aggregates message counters. The fixed totals are plain atomics;
// the per-type and per-sender breakdowns live in maps behind a mutex.
type Registry struct {
	sent           atomic.Int64
	received       atomic.Int64
	processed      atomic.Int64
	failed         atomic.Int64
	expired        atomic.Int64
	dropped        atomic.Int64
	retried        atomic.Int64
	fallbackUsages atomic.Int64

	mu       sync.RWMutex
	byType   map[string]int64
	bySender map[string]int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType:   make(map[string]int64),
		bySender: make(map[string]int64),
	}
}

// RecordSent counts one accepted message, broken down by type and sender.
func (r *Registry) RecordSent(messageType, sender string) {
	r.sent.Add(1)
	r.mu.Lock()
	r.byType[messageType]++
	r.bySender[sender]++
	r.mu.Unlock()
}

// RecordReceived counts one message delivered to a consumer.
func (r *Registry) RecordReceived() { r.received.Add(1) }

// RecordProcessed counts one acknowledged message.
func (r *Registry) RecordProcessed() { r.processed.Add(1) }

// RecordFailed counts one terminally failed message.
func (r *Registry) RecordFailed() { r.failed.Add(1) }

// RecordExpired counts one message discarded past its deadline.
func (r *Registry) RecordExpired() { r.expired.Add(1) }

// RecordDropped counts one message discarded as unreadable.
func (r *Registry) RecordDropped() { r.dropped.Add(1) }

// RecordRetry counts one re-enqueue after a failed processing attempt.
func (r *Registry) RecordRetry() { r.retried.Add(1) }

// RecordFallback counts one operation served by the in-process fallback.
func (r *Registry) RecordFallback() { r.fallbackUsages.Add(1) }

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Sent           int64            `json:"sent"`
	Received       int64            `json:"received"`
	Processed      int64            `json:"processed"`
	Failed         int64            `json:"failed"`
	Expired        int64            `json:"expired"`
	Dropped        int64            `json:"dropped"`
	Retried        int64            `json:"retried"`
	FallbackUsages int64            `json:"fallback_usages"`
	ByType         map[string]int64 `json:"by_type"`
	BySender       map[string]int64 `json:"by_sender"`
}

// Snapshot returns a consistent copy of the counters.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{
		Sent:           r.sent.Load(),
		Received:       r.received.Load(),
		Processed:      r.processed.Load(),
		Failed:         r.failed.Load(),
		Expired:        r.expired.Load(),
		Dropped:        r.dropped.Load(),
		Retried:        r.retried.Load(),
		FallbackUsages: r.fallbackUsages.Load(),
		ByType:         make(map[string]int64),
		BySender:       make(map[string]int64),
	}
	r.mu.RLock()
	for k, v := range r.byType {
		snap.ByType[k] = v
	}
	for k, v := range r.bySender {
		snap.BySender[k] = v
	}
	r.mu.RUnlock()
	return snap
}
