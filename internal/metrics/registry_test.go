package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry()

	r.RecordSent("task_request", "worker_1")
	r.RecordSent("task_request", "worker_1")
	r.RecordSent("heartbeat", "worker_2")
	r.RecordReceived()
	r.RecordProcessed()
	r.RecordFailed()
	r.RecordExpired()
	r.RecordDropped()
	r.RecordRetry()
	r.RecordFallback()

	snap := r.Snapshot()
	assert.Equal(t, int64(3), snap.Sent)
	assert.Equal(t, int64(1), snap.Received)
	assert.Equal(t, int64(1), snap.Processed)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1), snap.Expired)
	assert.Equal(t, int64(1), snap.Dropped)
	assert.Equal(t, int64(1), snap.Retried)
	assert.Equal(t, int64(1), snap.FallbackUsages)
	assert.Equal(t, int64(2), snap.ByType["task_request"])
	assert.Equal(t, int64(1), snap.ByType["heartbeat"])
	assert.Equal(t, int64(2), snap.BySender["worker_1"])
	assert.Equal(t, int64(1), snap.BySender["worker_2"])
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.RecordSent("task_request", "worker_1")

	snap := r.Snapshot()
	snap.ByType["task_request"] = 99

	assert.Equal(t, int64(1), r.Snapshot().ByType["task_request"])
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.RecordSent("task_request", "worker_1")
				r.RecordReceived()
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()

	snap := r.Snapshot()
	assert.Equal(t, int64(800), snap.Sent)
	assert.Equal(t, int64(800), snap.Received)
}
