package tools

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/probectl/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestGuardedAbsorbsPanic(t *testing.T) {
	testlog.Start(t)
	ran := false
	Guarded("panicky", func() {
		ran = true
		panic("boom")
	})
	if !ran {
		t.Fatalf("guarded fn should run")
	}
	// Reaching here means the panic did not escape.
}

func TestPeriodicTaskTicksAndStops(t *testing.T) {
	testlog.Start(t)
	var ticks atomic.Int64
	task := &PeriodicTask{
		Name:      "counter",
		Interval:  10 * time.Millisecond,
		Immediate: true,
	}
	task.Start(func() { ticks.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ticks.Load() < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks.Load())
	}
	task.Stop()
	after := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	if ticks.Load() != after {
		t.Fatalf("ticks continued after stop")
	}
}

func TestPeriodicTaskSurvivesPanickingTick(t *testing.T) {
	testlog.Start(t)
	var ticks atomic.Int64
	task := &PeriodicTask{Name: "panicky", Interval: 5 * time.Millisecond}
	task.Start(func() {
		ticks.Add(1)
		panic("tick boom")
	})
	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	task.Stop()
	if ticks.Load() < 2 {
		t.Fatalf("worker should survive a panicking tick, got %d", ticks.Load())
	}
}
