package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

// ----------------------------------------------------------------------------
// Transport / Dialer
// ----------------------------------------------------------------------------

type fakeTransport struct {
	mu         sync.Mutex
	writes     []string
	failWrites bool
	closed     bool

	once sync.Once
	done chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan error, 1)}
}

func (f *fakeTransport) WriteText(msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.failWrites {
		return errors.New("write failed")
	}
	f.writes = append(f.writes, msg)
	return nil
}

func (f *fakeTransport) Done() <-chan error { return f.done }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return nil
}

// fail simulates a runtime failure reported by the link.
func (f *fakeTransport) fail(err error) {
	f.once.Do(func() {
		f.done <- err
		close(f.done)
	})
}

func (f *fakeTransport) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeTransport) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type dialResult struct {
	t   Transport
	err error
}

type fakeDialer struct {
	mu     sync.Mutex
	urls   []string
	script []dialResult

	// hold blocks Dial until its context is canceled.
	hold bool
	// gate, when set, blocks Dial until closed, ignoring the context.
	gate chan struct{}
}

func (d *fakeDialer) push(results ...dialResult) {
	d.mu.Lock()
	d.script = append(d.script, results...)
	d.mu.Unlock()
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	hold, gate := d.hold, d.gate
	r := dialResult{err: errors.New("connection refused")}
	if len(d.script) > 0 {
		r = d.script[0]
		d.script = d.script[1:]
	}
	d.mu.Unlock()

	if hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if gate != nil {
		<-gate
	}
	return r.t, r.err
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) LastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.urls) == 0 {
		return ""
	}
	return d.urls[len(d.urls)-1]
}

// ----------------------------------------------------------------------------
// Scheduler
// ----------------------------------------------------------------------------

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	return t
}

func (s *fakeScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) Timer(i int) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

// fire runs timer i's callback regardless of whether it was stopped.
func (s *fakeScheduler) fire(i int) { s.Timer(i).f() }

// ----------------------------------------------------------------------------
// Sensor
// ----------------------------------------------------------------------------

type fakeSource struct {
	running  atomic.Int32
	starts   atomic.Int32
	interval atomic.Int64

	// feed is forwarded to the daemon while running.
	feed chan SensorSample
	// stop makes Run return the received error.
	stop chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{feed: make(chan SensorSample), stop: make(chan error)}
}

func (f *fakeSource) SetInterval(d time.Duration) { f.interval.Store(int64(d)) }

func (f *fakeSource) Run(ctx context.Context, out chan<- SensorSample) error {
	f.starts.Add(1)
	f.running.Add(1)
	defer f.running.Add(-1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-f.stop:
			return err
		case s := <-f.feed:
			if err := sendSample(ctx, out, s); err != nil {
				return err
			}
		}
	}
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: time.Unix(1700000000, 0)} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
