package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTarget struct {
	name        string
	checkpoints int32
	vacuums     int32
}

func (f *fakeTarget) Name() string { return f.name }
func (f *fakeTarget) Checkpoint(ctx context.Context) error {
	atomic.AddInt32(&f.checkpoints, 1)
	return nil
}
func (f *fakeTarget) Vacuum(ctx context.Context) error {
	atomic.AddInt32(&f.vacuums, 1)
	return nil
}

func TestRunNowCheckpointsAndVacuumsEveryTarget(t *testing.T) {
	a := &fakeTarget{name: "shop"}
	b := &fakeTarget{name: "qindb"}
	s := New(func() []Target { return []Target{a, b} }, time.Hour, nil)

	s.RunNow()

	if atomic.LoadInt32(&a.checkpoints) != 1 || atomic.LoadInt32(&a.vacuums) != 1 {
		t.Fatalf("expected target a to be checkpointed and vacuumed once, got %+v", a)
	}
	if atomic.LoadInt32(&b.checkpoints) != 1 || atomic.LoadInt32(&b.vacuums) != 1 {
		t.Fatalf("expected target b to be checkpointed and vacuumed once, got %+v", b)
	}
}

func TestStartAndStopRunPeriodically(t *testing.T) {
	a := &fakeTarget{name: "shop"}
	s := New(func() []Target { return []Target{a} }, time.Second, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(2500 * time.Millisecond)
	s.Stop()

	if atomic.LoadInt32(&a.checkpoints) < 2 {
		t.Fatalf("expected at least 2 scheduled passes, got %d", a.checkpoints)
	}
}
