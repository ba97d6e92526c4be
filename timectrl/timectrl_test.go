package timectrl

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTicker struct {
	ch      chan time.Time
	period  time.Duration
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

type fakeTickers struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (f *fakeTickers) New(period time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time), period: period}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *fakeTickers) last(t *testing.T) *fakeTicker {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tickers) == 0 {
		t.Fatalf("no ticker created")
	}
	return f.tickers[len(f.tickers)-1]
}

type recordingPublisher struct {
	mu     sync.Mutex
	stamps []time.Time
	fail   error
}

func (p *recordingPublisher) Publish(t time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.stamps = append(p.stamps, t)
	return nil
}

func (p *recordingPublisher) setFail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

func (p *recordingPublisher) published() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.stamps...)
}

var epoch = time.Date(2025, time.January, 1, 6, 0, 0, 0, time.UTC)

// newTestClock returns a clock driven by fake tickers plus a channel that
// receives every tick's simulated time after listeners ran.
func newTestClock(t *testing.T, opts ...Option) (*Clock, *fakeTickers, <-chan time.Time) {
	t.Helper()
	tickers := &fakeTickers{}
	opts = append([]Option{WithStartTime(epoch), WithTickerFactory(tickers.New)}, opts...)
	c := NewClock(opts...)
	ticked := make(chan time.Time, 64)
	c.AddListener(func(now time.Time) { ticked <- now })
	t.Cleanup(c.Stop)
	return c, tickers, ticked
}

func fire(t *testing.T, tk *fakeTicker, ticked <-chan time.Time) time.Time {
	t.Helper()
	select {
	case tk.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatalf("tick loop did not accept tick")
	}
	select {
	case now := <-ticked:
		return now
	case <-time.After(time.Second):
		t.Fatalf("tick did not complete")
	}
	return time.Time{}
}

func TestClockTickAdvancesOneSimulatedSecond(t *testing.T) {
	c, tickers, ticked := newTestClock(t)
	if err := c.Start(1.0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tk := tickers.last(t)
	if tk.period != time.Second {
		t.Fatalf("period = %v, want 1s", tk.period)
	}

	prev := c.Now()
	for i := 1; i <= 5; i++ {
		now := fire(t, tk, ticked)
		if got := now.Sub(prev); got != time.Second {
			t.Fatalf("tick %d advanced %v, want 1s", i, got)
		}
		prev = now
	}
	if want := epoch.Add(5 * time.Second); !c.Now().Equal(want) {
		t.Fatalf("Now() = %v, want %v", c.Now(), want)
	}
	if c.Ticks() != 5 {
		t.Fatalf("Ticks() = %d, want 5", c.Ticks())
	}
}

func TestClockSetAccelerationKeepsTime(t *testing.T) {
	c, tickers, ticked := newTestClock(t)
	if err := c.Start(1.0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := tickers.last(t)
	fire(t, first, ticked)
	fire(t, first, ticked)

	if err := c.SetAcceleration(10.0); err != nil {
		t.Fatalf("SetAcceleration: %v", err)
	}
	if !first.stopped.Load() {
		t.Fatalf("old ticker not stopped")
	}
	second := tickers.last(t)
	if second == first {
		t.Fatalf("loop was not restarted")
	}
	if second.period != 100*time.Millisecond {
		t.Fatalf("period after 10x = %v, want 100ms", second.period)
	}
	if want := epoch.Add(2 * time.Second); !c.Now().Equal(want) {
		t.Fatalf("SetAcceleration changed sim time: %v, want %v", c.Now(), want)
	}

	now := fire(t, second, ticked)
	if want := epoch.Add(3 * time.Second); !now.Equal(want) {
		t.Fatalf("first tick after restart = %v, want %v", now, want)
	}
	if c.Acceleration() != 10.0 {
		t.Fatalf("Acceleration() = %v, want 10", c.Acceleration())
	}
}

func TestClockSetAccelerationWhileStopped(t *testing.T) {
	c, tickers, _ := newTestClock(t)
	if err := c.SetAcceleration(10); err != nil {
		t.Fatalf("SetAcceleration: %v", err)
	}
	if c.Running() {
		t.Fatalf("SetAcceleration started a stopped clock")
	}
	tickers.mu.Lock()
	n := len(tickers.tickers)
	tickers.mu.Unlock()
	if n != 0 {
		t.Fatalf("ticker created while stopped")
	}
}

func TestClockStopFreezesTime(t *testing.T) {
	c, tickers, ticked := newTestClock(t)
	if err := c.Start(2.0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tk := tickers.last(t)
	fire(t, tk, ticked)
	c.Stop()

	if !tk.stopped.Load() {
		t.Fatalf("ticker not stopped")
	}
	if c.Running() {
		t.Fatalf("Running() = true after Stop")
	}
	frozen := c.Now()

	select {
	case tk.ch <- time.Now():
		t.Fatalf("tick accepted after Stop returned")
	case <-time.After(20 * time.Millisecond):
	}
	if !c.Now().Equal(frozen) {
		t.Fatalf("Now() moved after Stop")
	}
	c.Stop() // idempotent

	if err := c.Start(1.0); err != nil {
		t.Fatalf("restart: %v", err)
	}
	now := fire(t, tickers.last(t), ticked)
	if !now.Equal(frozen.Add(time.Second)) {
		t.Fatalf("restart resumed at %v, want %v", now, frozen.Add(time.Second))
	}
}

func TestClockStartValidation(t *testing.T) {
	c, _, _ := newTestClock(t)
	for _, f := range []float64{0, -1, math.NaN(), math.Inf(1), 1e12} {
		if err := c.Start(f); !errors.Is(err, ErrInvalidAcceleration) {
			t.Fatalf("Start(%v) err = %v, want ErrInvalidAcceleration", f, err)
		}
		if err := c.SetAcceleration(f); !errors.Is(err, ErrInvalidAcceleration) {
			t.Fatalf("SetAcceleration(%v) err = %v, want ErrInvalidAcceleration", f, err)
		}
	}
	if err := c.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(1); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}
}

func TestClockPublishesEveryTick(t *testing.T) {
	pub := &recordingPublisher{}
	c, tickers, ticked := newTestClock(t, WithPublisher(pub))
	if err := c.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tk := tickers.last(t)
	var want []time.Time
	for i := 0; i < 3; i++ {
		want = append(want, fire(t, tk, ticked))
	}
	got := pub.published()
	if len(got) != len(want) {
		t.Fatalf("published %d stamps, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("stamp %d = %v, want %v", i, got[i], want[i])
		}
	}
	st := c.PublishStatus()
	if !st.Healthy || !st.LastPublished.Equal(want[2]) {
		t.Fatalf("status = %+v", st)
	}
}

func TestClockPublishDegradesAndRecovers(t *testing.T) {
	pub := &recordingPublisher{}
	c, tickers, ticked := newTestClock(t, WithPublisher(pub))
	if err := c.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tk := tickers.last(t)

	boom := errors.New("slot torn down")
	pub.setFail(boom)
	fire(t, tk, ticked)
	now := fire(t, tk, ticked)

	st := c.PublishStatus()
	if st.Healthy {
		t.Fatalf("status healthy after publish failures")
	}
	if st.Failures != 2 || !errors.Is(st.LastError, boom) {
		t.Fatalf("status = %+v", st)
	}
	if !c.Now().Equal(now) {
		t.Fatalf("clock stopped advancing locally")
	}

	pub.setFail(nil)
	fire(t, tk, ticked)
	st = c.PublishStatus()
	if !st.Healthy || st.LastError != nil {
		t.Fatalf("status did not recover: %+v", st)
	}
}

func TestClockPublishWithoutPublisherIsNoop(t *testing.T) {
	c := NewClock()
	c.Publish()
	if !c.PublishStatus().Healthy {
		t.Fatalf("clock without publisher reported unhealthy")
	}
}

func TestClockNowConcurrentWithTicks(t *testing.T) {
	c := NewClock(WithStartTime(epoch))
	if err := c.Start(2000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := c.Now()
			for i := 0; i < 2000; i++ {
				now := c.Now()
				if now.Before(prev) {
					t.Errorf("Now went backwards: %v -> %v", prev, now)
					return
				}
				if now.Sub(epoch)%time.Second != 0 {
					t.Errorf("Now observed a partial tick: %v", now)
					return
				}
				prev = now
			}
		}()
	}
	wg.Wait()
	c.Stop()
}

func TestClockWallTickerSmoke(t *testing.T) {
	c := NewClock(WithStartTime(epoch))
	if err := c.Start(1000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	c.Stop()

	ticks := c.Ticks()
	if ticks == 0 {
		t.Fatalf("no ticks in 50ms at 1000x")
	}
	if want := epoch.Add(time.Duration(ticks) * time.Second); !c.Now().Equal(want) {
		t.Fatalf("Now() = %v, want %v after %d ticks", c.Now(), want, ticks)
	}

	time.Sleep(10 * time.Millisecond)
	if c.Ticks() != ticks {
		t.Fatalf("ticks advanced after Stop: %d -> %d", ticks, c.Ticks())
	}
}
