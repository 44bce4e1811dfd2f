package audit

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_Coalesces(t *testing.T) {
	var calls atomic.Int32
	d := newDebouncer(20*time.Millisecond, func() { calls.Add(1) })

	for range 10 {
		d.Trigger()
	}
	time.Sleep(80 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 call, got %d", got)
	}
}

func TestDebouncer_Flush(t *testing.T) {
	var calls atomic.Int32
	d := newDebouncer(time.Hour, func() { calls.Add(1) })

	d.Flush()
	if got := calls.Load(); got != 0 {
		t.Fatalf("flush with nothing pending ran fn %d times", got)
	}

	d.Trigger()
	d.Flush()
	d.Flush()
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 call after flush, got %d", got)
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	var calls atomic.Int32
	d := newDebouncer(10*time.Millisecond, func() { calls.Add(1) })

	d.Trigger()
	d.Cancel()
	time.Sleep(40 * time.Millisecond)

	if got := calls.Load(); got != 0 {
		t.Errorf("cancelled call ran %d times", got)
	}
}
