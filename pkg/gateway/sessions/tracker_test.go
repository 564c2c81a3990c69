package sessions

import (
	"context"
	"testing"
	"time"
)

func TestTracker_RegisterAndCount(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("empty tracker count = %d", tr.Count())
	}

	un1 := tr.Register("c1", Handle{})
	un2 := tr.Register("c2", Handle{})
	if tr.Count() != 2 {
		t.Fatalf("count = %d", tr.Count())
	}

	un1()
	un1() // unregister is idempotent
	if tr.Count() != 1 {
		t.Fatalf("count after unregister = %d", tr.Count())
	}
	un2()
}

func TestTracker_ReplacementUnregistersOld(t *testing.T) {
	tr := NewTracker()
	oldCanceled := false
	tr.Register("c1", Handle{Cancel: func() { oldCanceled = true }})
	un := tr.Register("c1", Handle{})
	if tr.Count() != 1 {
		t.Fatalf("count = %d", tr.Count())
	}
	if tr.CancelAll() != 1 {
		t.Fatal("only the replacement should remain")
	}
	if oldCanceled {
		t.Fatal("replaced handle must not be cancelable anymore")
	}
	un()

	// Wait should not block: the replaced registration was released.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !tr.Wait(ctx) {
		t.Fatal("Wait should return once all connections are gone")
	}
}

func TestTracker_NotifyAllAndCancelAll(t *testing.T) {
	tr := NewTracker()
	notified := 0
	canceled := 0
	tr.Register("c1", Handle{
		Notify: func(code, message string) error { notified++; return nil },
		Cancel: func() { canceled++ },
	})
	tr.Register("c2", Handle{
		Cancel: func() { canceled++ },
	})

	if got := tr.NotifyAll("draining", "server shutting down"); got != 1 {
		t.Fatalf("NotifyAll = %d", got)
	}
	if notified != 1 {
		t.Fatalf("notified = %d", notified)
	}
	if got := tr.CancelAll(); got != 2 {
		t.Fatalf("CancelAll = %d", got)
	}
	if canceled != 2 {
		t.Fatalf("canceled = %d", canceled)
	}
}

func TestTracker_WaitTimesOut(t *testing.T) {
	tr := NewTracker()
	un := tr.Register("c1", Handle{})
	defer un()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatal("Wait should time out while a connection is registered")
	}
}

func TestTracker_NilSafe(t *testing.T) {
	var tr *Tracker
	un := tr.Register("c1", Handle{})
	un()
	if tr.Count() != 0 || tr.NotifyAll("x", "y") != 0 || tr.CancelAll() != 0 {
		t.Fatal("nil tracker should be inert")
	}
	if !tr.Wait(context.Background()) {
		t.Fatal("nil tracker Wait should return true")
	}
}
