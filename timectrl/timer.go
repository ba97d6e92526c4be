package timectrl

import "time"

// Ticker delivers periodic wall-clock events.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker with the given period.
type TickerFactory func(period time.Duration) Ticker

type wallTicker struct {
	t *time.Ticker
}

// NewWallTicker is the default TickerFactory backed by time.Ticker.
func NewWallTicker(period time.Duration) Ticker {
	return wallTicker{t: time.NewTicker(period)}
}

func (w wallTicker) C() <-chan time.Time { return w.t.C }
func (w wallTicker) Stop()               { w.t.Stop() }

// repeatingTimer runs fire on its own goroutine once per ticker event until
// cancelled.
type repeatingTimer struct {
	ticker Ticker
	stop   chan struct{}
	done   chan struct{}
}

func startRepeatingTimer(newTicker TickerFactory, period time.Duration, fire func()) *repeatingTimer {
	t := &repeatingTimer{
		ticker: newTicker(period),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.run(fire)
	return t
}

func (t *repeatingTimer) run(fire func()) {
	defer close(t.done)
	defer t.ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C():
			// A pending event must not fire once cancellation was requested.
			select {
			case <-t.stop:
				return
			default:
			}
			fire()
		}
	}
}

// Cancel stops the timer and waits for an in-flight fire to return.
func (t *repeatingTimer) Cancel() {
	close(t.stop)
	<-t.done
}
