package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type fakePinger struct {
	mu    sync.Mutex
	calls int64
	err   error
}

func (p *fakePinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *fakePinger) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakePinger) recover() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = nil
}

func (p *fakePinger) pings() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestHealthyProbesOnce(t *testing.T) {
	ctx := context.Background()
	pinger := &fakePinger{}
	m := NewMonitor(pinger, time.Hour, quietLog())

	assert.True(t, m.Healthy(ctx))
	assert.True(t, m.Healthy(ctx))
	assert.True(t, m.Healthy(ctx))
	assert.Equal(t, int64(1), pinger.pings(), "verdict cached within the interval")
}

func TestHealthyDetectsFailure(t *testing.T) {
	ctx := context.Background()
	pinger := &fakePinger{}
	pinger.fail(errors.New("connection refused"))
	m := NewMonitor(pinger, time.Hour, quietLog())

	assert.False(t, m.Healthy(ctx))
	assert.Equal(t, StateUnhealthy, m.State())
}

func TestReportFailureFlipsImmediately(t *testing.T) {
	ctx := context.Background()
	pinger := &fakePinger{}
	m := NewMonitor(pinger, time.Hour, quietLog())

	assert.True(t, m.Healthy(ctx))
	m.ReportFailure(errors.New("broken pipe"))
	assert.Equal(t, StateUnhealthy, m.State())
}

func TestForceCheckBypassesThrottle(t *testing.T) {
	ctx := context.Background()
	pinger := &fakePinger{}
	pinger.fail(errors.New("connection refused"))
	m := NewMonitor(pinger, time.Hour, quietLog())

	assert.False(t, m.Healthy(ctx))

	pinger.recover()
	assert.False(t, m.Healthy(ctx), "cached verdict holds within the interval")
	assert.True(t, m.ForceCheck(ctx))
	assert.Equal(t, StateHealthy, m.State())
}

func TestRecoveryNeedsSuccessfulProbe(t *testing.T) {
	ctx := context.Background()
	pinger := &fakePinger{}
	m := NewMonitor(pinger, time.Millisecond, quietLog())

	pinger.fail(errors.New("connection refused"))
	assert.False(t, m.Healthy(ctx))

	// The throttle expires but the store is still down.
	time.Sleep(5 * time.Millisecond)
	assert.False(t, m.Healthy(ctx))

	pinger.recover()
	time.Sleep(5 * time.Millisecond)
	assert.True(t, m.Healthy(ctx))
}

func TestStateStartsUnknown(t *testing.T) {
	m := NewMonitor(&fakePinger{}, time.Hour, quietLog())
	assert.Equal(t, StateUnknown, m.State())
}
