package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsAllTasks(t *testing.T) {
	p := NewPool(4, 16)
	var count atomic.Int64
	for i := 0; i < 20; i++ {
		ok := p.Submit(Task{Name: "work", Execute: func() {
			time.Sleep(time.Millisecond)
			count.Add(1)
		}})
		if !ok {
			t.Fatal("submit rejected before shutdown")
		}
	}
	p.Shutdown()
	if got := count.Load(); got != 20 {
		t.Fatalf("executed %d tasks, want 20", got)
	}
}

func TestPoolDrain(t *testing.T) {
	p := NewPool(2, 8)
	var count atomic.Int64
	for i := 0; i < 6; i++ {
		p.Submit(Task{Name: "work", Execute: func() { count.Add(1) }})
	}
	p.Drain()
	if got := count.Load(); got != 6 {
		t.Fatalf("drained at %d tasks, want 6", got)
	}
	p.Shutdown()
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	p := NewPool(1, 1)
	p.Shutdown()
	if p.Submit(Task{Name: "late", Execute: func() {}}) {
		t.Fatal("submit accepted after shutdown")
	}
}
