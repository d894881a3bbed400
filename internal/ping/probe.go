package ping

import (
	"context"
	"net"
	"sync"
	"time"
)

// Stats is a snapshot of one entry's probe results.
type Stats struct {
	IP         string        `json:"ip"`
	Last       time.Duration `json:"-"`
	LastMs     int64         `json:"last_ms"`
	Reachable  bool          `json:"reachable"`
	AverageMs  int64         `json:"average_ms"`
	PacketLoss int           `json:"packet_loss"`
	Samples    uint64        `json:"samples"`
	// Completed is true when this sample closed a window.
	Completed bool `json:"-"`
}

// Probe pings a single address, at most one request at a time.
type Probe struct {
	mu       sync.Mutex
	ip       net.IP
	pinger   Pinger
	window   Window
	samples  uint64
	inFlight bool
	cancel   context.CancelFunc
	handler  func(Stats)
	disposed bool
}

// NewProbe creates a probe for ip. handler runs on the probe goroutine
// after every sample.
func NewProbe(ip net.IP, pinger Pinger, handler func(Stats)) *Probe {
	return &Probe{ip: ip, pinger: pinger, handler: handler}
}

// Trigger sends one echo request unless one is already in flight or the
// probe is disposed. It reports whether a request was started.
func (p *Probe) Trigger(ctx context.Context) bool {
	p.mu.Lock()
	if p.inFlight || p.disposed {
		p.mu.Unlock()
		return false
	}
	pctx, cancel := context.WithCancel(ctx)
	p.inFlight = true
	p.cancel = cancel
	p.mu.Unlock()

	go func() {
		defer cancel()
		rtt, err := p.pinger.Ping(pctx, p.ip)

		p.mu.Lock()
		p.inFlight = false
		p.cancel = nil
		if p.disposed {
			p.mu.Unlock()
			return
		}
		completed := p.window.Record(rtt, err == nil)
		p.samples++
		stats := p.statsLocked()
		stats.Completed = completed
		handler := p.handler
		p.mu.Unlock()

		if handler != nil {
			handler(stats)
		}
	}()
	return true
}

// InFlight reports whether a request is pending.
func (p *Probe) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Stats returns the current results.
func (p *Probe) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Probe) statsLocked() Stats {
	last, ok := p.window.Last()
	s := Stats{
		IP:         p.ip.String(),
		Last:       last,
		LastMs:     last.Milliseconds(),
		Reachable:  ok,
		AverageMs:  p.window.Average().Milliseconds(),
		PacketLoss: p.window.Loss(),
		Samples:    p.samples,
	}
	if !ok {
		s.LastMs = -1
	}
	return s
}

// Dispose cancels any pending request and detaches the handler. Results
// that arrive afterwards are discarded.
func (p *Probe) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposed = true
	p.handler = nil
	if p.cancel != nil {
		p.cancel()
	}
}
