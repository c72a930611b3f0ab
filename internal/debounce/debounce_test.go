package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	calls []int
	fired chan struct{}
}

func newRecorder() *recorder { return &recorder{fired: make(chan struct{}, 16)} }

func (r *recorder) fn(v int) {
	r.mu.Lock()
	r.calls = append(r.calls, v)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.calls...)
}

func TestDebouncer_CoalescesBurstToLatest(t *testing.T) {
	r := newRecorder()
	d := New(30*time.Millisecond, r.fn)
	defer d.Stop()

	for i := 1; i <= 5; i++ {
		d.Trigger(i)
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case <-r.fired:
	case <-time.After(time.Second):
		t.Fatalf("debounced call never fired")
	}
	time.Sleep(60 * time.Millisecond)

	got := r.snapshot()
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("calls=%v want [5]", got)
	}
}

func TestDebouncer_SeparateWindowsFireSeparately(t *testing.T) {
	r := newRecorder()
	d := New(10*time.Millisecond, r.fn)
	defer d.Stop()

	d.Trigger(1)
	<-r.fired
	d.Trigger(2)
	<-r.fired

	got := r.snapshot()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("calls=%v want [1 2]", got)
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	var n atomic.Int32
	d := New(20*time.Millisecond, func(int) { n.Add(1) })

	d.Trigger(1)
	d.Stop()
	d.Trigger(2)
	time.Sleep(60 * time.Millisecond)

	if got := n.Load(); got != 0 {
		t.Fatalf("fired %d times after Stop", got)
	}
}

func TestDebouncer_ZeroWaitIsSynchronous(t *testing.T) {
	var got []int
	d := New(0, func(v int) { got = append(got, v) })
	d.Trigger(1)
	d.Trigger(2)
	if len(got) != 2 {
		t.Fatalf("calls=%v want 2 synchronous calls", got)
	}
}

func TestDebouncer_Flush(t *testing.T) {
	r := newRecorder()
	d := New(time.Hour, r.fn)
	defer d.Stop()

	if d.Flush() {
		t.Fatalf("Flush reported pending on idle debouncer")
	}
	d.Trigger(7)
	if !d.Flush() {
		t.Fatalf("Flush found nothing pending")
	}
	<-r.fired
	if got := r.snapshot(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("calls=%v want [7]", got)
	}
}
