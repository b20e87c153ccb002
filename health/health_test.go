package health

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakePinger struct {
	mu  sync.Mutex
	err error
}

func (f *fakePinger) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakePinger) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func TestProbeDegradedThenUnhealthy(t *testing.T) {
	var degraded, unhealthy, recovered int
	m := &Monitor{
		FailureThreshold: 3,
		OnDegraded:       func(error) { degraded++ },
		OnUnhealthy:      func(error) { unhealthy++ },
		OnRecovered:      func() { recovered++ },
	}
	p := &fakePinger{err: errors.New("unreachable")}
	ctx := context.Background()

	m.probe(ctx, p)
	if degraded != 1 || unhealthy != 0 {
		t.Fatalf("after 1 failure: degraded=%d unhealthy=%d, want 1,0", degraded, unhealthy)
	}

	m.probe(ctx, p)
	if degraded != 1 || unhealthy != 0 {
		t.Fatalf("after 2 failures: degraded=%d unhealthy=%d, want 1,0", degraded, unhealthy)
	}

	m.probe(ctx, p)
	if unhealthy != 1 {
		t.Fatalf("after 3 failures: unhealthy=%d, want 1", unhealthy)
	}

	p.setErr(nil)
	m.probe(ctx, p)
	if recovered != 1 {
		t.Fatalf("after recovery: recovered=%d, want 1", recovered)
	}
}

func TestProbeSuccessNeverFiresCallbacks(t *testing.T) {
	called := false
	m := &Monitor{
		FailureThreshold: 3,
		OnDegraded:       func(error) { called = true },
		OnUnhealthy:      func(error) { called = true },
		OnRecovered:      func() { called = true },
	}
	p := &fakePinger{}
	m.probe(context.Background(), p)
	if called {
		t.Fatal("no callback should fire on a successful probe with no prior failures")
	}
}

func TestStartStopStopsCleanly(t *testing.T) {
	m := &Monitor{}
	p := &fakePinger{}
	m.Start(context.Background(), p)
	m.Stop()
}
