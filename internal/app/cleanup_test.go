package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingPruner struct {
	calls atomic.Int32
}

func (p *countingPruner) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	p.calls.Add(1)
	return 0, nil
}

func TestStartSessionCleanup_RunsAndStops(t *testing.T) {
	pruner := &countingPruner{}
	stop := startSessionCleanup(t.Context(), 24*time.Hour, pruner)

	deadline := time.Now().Add(2 * time.Second)
	for pruner.calls.Load() == 0 {
		if time.Now().After(deadline) {
			stop()
			t.Fatal("cleanup job did not run on start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
}

func TestStartSessionCleanup_DisabledWithZeroRetention(t *testing.T) {
	pruner := &countingPruner{}
	stop := startSessionCleanup(t.Context(), 0, pruner)
	stop()

	if n := pruner.calls.Load(); n != 0 {
		t.Errorf("DeleteIdle calls = %d, want 0", n)
	}
}
