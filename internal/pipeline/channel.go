package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gonzalop/ftpd/internal/eventloop"
)

// Progress is delivered to a Channel's ProgressFunc at most once every
// MinProgressInterval, whenever bytes have moved since the last report.
type Progress struct {
	BytesPerSecond float64
	TotalBytes     int64
	Elapsed        time.Duration
}

// ProgressFunc receives Channel progress notifications.
type ProgressFunc func(p Progress)

// MinProgressInterval is the floor spec.md §3 Channel specifies: at most
// one progress callback per >=200ms per direction.
const MinProgressInterval = 200 * time.Millisecond

// Channel augments a Pipe with a moving-rate monitor per spec.md §3/§4.2.
// It wraps the supplied Adder so every byte that flows through is counted,
// then drives a Pipe exactly as Pipe does on its own.
type Channel struct {
	*Pipe
	monitor *monitor
}

// NewChannel builds a Channel. onProgress may be nil to disable reporting.
func NewChannel(loop *eventloop.Loop, adder Adder, consumer Consumer, target DoneHandler, onProgress ProgressFunc) *Channel {
	mon := &monitor{onProgress: onProgress, start: time.Now()}
	wrapped := &countingAdder{Adder: adder, mon: mon}
	p := New(loop, wrapped, consumer, target)
	return &Channel{Pipe: p, monitor: mon}
}

// BytesPerSecond returns the current moving rate.
func (c *Channel) BytesPerSecond() float64 { return c.monitor.rate() }

// TotalBytes returns the cumulative byte count seen by the channel.
func (c *Channel) TotalBytes() int64 { return atomic.LoadInt64(&c.monitor.total) }

type monitor struct {
	mu         sync.Mutex
	total      int64
	windowSecs []windowSample
	start      time.Time
	lastReport time.Time
	onProgress ProgressFunc
}

type windowSample struct {
	at    time.Time
	bytes int64
}

const rateWindow = 5 * time.Second

func (m *monitor) record(n int) {
	if n <= 0 {
		return
	}
	atomic.AddInt64(&m.total, int64(n))

	m.mu.Lock()
	now := time.Now()
	m.windowSecs = append(m.windowSecs, windowSample{at: now, bytes: int64(n)})
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(m.windowSecs) && m.windowSecs[i].at.Before(cutoff) {
		i++
	}
	m.windowSecs = m.windowSecs[i:]

	shouldReport := m.onProgress != nil && now.Sub(m.lastReport) >= MinProgressInterval
	if shouldReport {
		m.lastReport = now
	}
	var sum int64
	for _, s := range m.windowSecs {
		sum += s.bytes
	}
	elapsed := now.Sub(m.start)
	m.mu.Unlock()

	if shouldReport {
		span := rateWindow
		if elapsed < span {
			span = elapsed
			if span <= 0 {
				span = time.Millisecond
			}
		}
		m.onProgress(Progress{
			BytesPerSecond: float64(sum) / span.Seconds(),
			TotalBytes:     atomic.LoadInt64(&m.total),
			Elapsed:        elapsed,
		})
	}
}

func (m *monitor) rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var sum int64
	for _, s := range m.windowSecs {
		sum += s.bytes
	}
	span := rateWindow
	if elapsed := now.Sub(m.start); elapsed < span {
		span = elapsed
		if span <= 0 {
			span = time.Millisecond
		}
	}
	return float64(sum) / span.Seconds()
}

// countingAdder wraps an Adder purely to observe how many bytes each
// AddToBuffer call actually produced, by diffing the shared buffer's size
// before and after.
type countingAdder struct {
	Adder
	mon  *monitor
	last int
}

func (c *countingAdder) AddToBuffer() Result {
	before := c.bufSize()
	res := c.Adder.AddToBuffer()
	after := c.bufSize()
	if after > before {
		c.mon.record(after - before)
	}
	return res
}

func (c *countingAdder) bufSize() int {
	b := c.Base().Buffer()
	if b == nil {
		return 0
	}
	p := b.Lock()
	defer p.Unlock()
	return p.Size()
}

// Base exposes the embedded Base of the wrapped Adder so countingAdder can
// inspect the shared buffer without re-implementing SetBuffer. Concrete
// Adders used with Channel must provide it via this tiny interface.
type baseProvider interface{ Base() *Base }

func (c *countingAdder) Base() *Base {
	if bp, ok := c.Adder.(baseProvider); ok {
		return bp.Base()
	}
	return &Base{}
}
