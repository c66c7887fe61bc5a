package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingChecker struct {
	calls   int32
	healthy bool
}

func (c *countingChecker) Check(ctx context.Context) Result {
	atomic.AddInt32(&c.calls, 1)
	return Result{Healthy: c.healthy, CheckedAt: time.Now()}
}

func (c *countingChecker) Type() CheckType { return CheckTypeHTTP }

func TestMonitorRunsRegisteredCheckImmediately(t *testing.T) {
	m := NewMonitor()
	defer m.Stop()

	checker := &countingChecker{healthy: true}
	m.Register("test", checker, Config{Interval: time.Hour, Timeout: time.Second, Retries: 3})

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&checker.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if atomic.LoadInt32(&checker.calls) == 0 {
		t.Fatal("expected the check to run at least once immediately after Register")
	}

	status, ok := m.Status("test")
	if !ok {
		t.Fatal("expected status to be present after a check ran")
	}
	if !status.Healthy {
		t.Error("expected status to be healthy")
	}
}

func TestMonitorUnregisterStopsChecks(t *testing.T) {
	m := NewMonitor()
	defer m.Stop()

	checker := &countingChecker{healthy: true}
	m.Register("test", checker, Config{Interval: 5 * time.Millisecond, Timeout: time.Second, Retries: 3})
	time.Sleep(20 * time.Millisecond)

	m.Unregister("test")
	callsAtUnregister := atomic.LoadInt32(&checker.calls)
	time.Sleep(30 * time.Millisecond)

	if atomic.LoadInt32(&checker.calls) != callsAtUnregister {
		t.Error("expected no further checks to run after Unregister")
	}

	if _, ok := m.Status("test"); ok {
		t.Error("expected status to be gone after Unregister")
	}
}

func TestMonitorMarksUnhealthyAfterRetries(t *testing.T) {
	m := NewMonitor()
	defer m.Stop()

	checker := &countingChecker{healthy: false}
	m.Register("flaky", checker, Config{Interval: 5 * time.Millisecond, Timeout: time.Second, Retries: 2})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		status, ok := m.Status("flaky")
		if ok && !status.Healthy {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected status to flip unhealthy after enough consecutive failures")
}

func TestMonitorAllReturnsEveryCheck(t *testing.T) {
	m := NewMonitor()
	defer m.Stop()

	m.Register("a", &countingChecker{healthy: true}, Config{Interval: time.Hour, Timeout: time.Second, Retries: 3})
	m.Register("b", &countingChecker{healthy: true}, Config{Interval: time.Hour, Timeout: time.Second, Retries: 3})

	time.Sleep(10 * time.Millisecond)

	all := m.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(all))
	}
}
