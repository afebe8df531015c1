package filter

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDebouncer_coalescesToLastCall(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var calls, last atomic.Int64

	for i := int64(1); i <= 5; i++ {
		d.Schedule(func() {
			calls.Add(1)
			last.Store(i)
		})
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// Give a late timer a chance to misfire.
	time.Sleep(40 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if got := last.Load(); got != 5 {
		t.Errorf("last = %d, want 5", got)
	}
}

func TestDebouncer_cancelDropsPending(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	var calls atomic.Int64
	d.Schedule(func() { calls.Add(1) })
	d.Cancel()

	if d.Pending() {
		t.Error("Pending() = true after Cancel")
	}
	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("calls = %d, want 0", got)
	}
}

func TestDebouncer_flushRunsSynchronously(t *testing.T) {
	d := NewDebouncer(time.Hour)
	ran := false
	d.Schedule(func() { ran = true })

	if !d.Flush() {
		t.Fatal("Flush() = false, want true")
	}
	if !ran {
		t.Error("pending call did not run")
	}
	if d.Flush() {
		t.Error("second Flush() = true, want false")
	}
}

func TestDebouncer_stopIgnoresLaterSchedules(t *testing.T) {
	d := NewDebouncer(time.Millisecond)
	d.Stop()
	var calls atomic.Int64
	d.Schedule(func() { calls.Add(1) })

	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("calls = %d, want 0", got)
	}
	if d.Pending() {
		t.Error("Pending() = true after Stop")
	}
}
