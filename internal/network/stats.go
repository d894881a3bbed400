package network

import (
	"sync/atomic"
	"time"
)

// Statistics tracks traffic counters for a socket. A nil *Statistics is a
// valid no-op receiver.
type Statistics struct {
	bytesIn    atomic.Int64
	bytesOut   atomic.Int64
	packetsIn  atomic.Int64
	packetsOut atomic.Int64
	pingNanos  atomic.Int64
	connected  atomic.Int64 // unix nanos, 0 when disconnected
}

// NewStatistics creates an empty collector.
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) bytesReceived(n int) {
	if s == nil {
		return
	}
	s.bytesIn.Add(int64(n))
}

func (s *Statistics) packetReceived() {
	if s == nil {
		return
	}
	s.packetsIn.Add(1)
}

func (s *Statistics) packetSent(n int) {
	if s == nil {
		return
	}
	s.bytesOut.Add(int64(n))
	s.packetsOut.Add(1)
}

func (s *Statistics) markConnected(t time.Time) {
	if s == nil {
		return
	}
	s.connected.Store(t.UnixNano())
}

func (s *Statistics) markDisconnected() {
	if s == nil {
		return
	}
	s.connected.Store(0)
}

// RecordPing stores the latest round-trip estimate.
func (s *Statistics) RecordPing(rtt time.Duration) {
	if s == nil {
		return
	}
	s.pingNanos.Store(int64(rtt))
}

// Ping returns the latest round-trip estimate.
func (s *Statistics) Ping() time.Duration {
	if s == nil {
		return 0
	}
	return time.Duration(s.pingNanos.Load())
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	BytesIn     int64     `json:"bytes_in"`
	BytesOut    int64     `json:"bytes_out"`
	PacketsIn   int64     `json:"packets_in"`
	PacketsOut  int64     `json:"packets_out"`
	PingMs      int64     `json:"ping_ms"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
}

// Snapshot returns the current counters.
func (s *Statistics) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		BytesIn:    s.bytesIn.Load(),
		BytesOut:   s.bytesOut.Load(),
		PacketsIn:  s.packetsIn.Load(),
		PacketsOut: s.packetsOut.Load(),
		PingMs:     s.Ping().Milliseconds(),
	}
	if ns := s.connected.Load(); ns != 0 {
		snap.ConnectedAt = time.Unix(0, ns)
	}
	return snap
}
