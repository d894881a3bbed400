package network

import "sync/atomic"

// DefaultQueueCapacity bounds the packets buffered between the receive
// loop and the consumer.
const DefaultQueueCapacity = 4096

// PacketQueue is a bounded FIFO of raw inbound packets. The receive loop
// produces and the main tick consumes.
type PacketQueue struct {
	ch        chan []byte
	processed atomic.Uint64
}

// NewPacketQueue creates a queue holding up to capacity packets.
func NewPacketQueue(capacity int) *PacketQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &PacketQueue{ch: make(chan []byte, capacity)}
}

// Push enqueues pkt, blocking while the queue is full. It gives up when
// done is closed.
func (q *PacketQueue) Push(done <-chan struct{}, pkt []byte) error {
	select {
	case q.ch <- pkt:
		return nil
	case <-done:
		return ErrQueueClosed
	}
}

// Drain hands at most limit queued packets to fn and returns how many were
// handled. It never waits for new packets.
func (q *PacketQueue) Drain(limit int, fn func(pkt []byte)) int {
	n := 0
	for n < limit {
		select {
		case pkt := <-q.ch:
			n++
			q.processed.Add(1)
			fn(pkt)
		default:
			return n
		}
	}
	return n
}

// Len returns the number of queued packets.
func (q *PacketQueue) Len() int {
	return len(q.ch)
}

// Processed returns the total number of packets drained.
func (q *PacketQueue) Processed() uint64 {
	return q.processed.Load()
}

// Clear drops every queued packet.
func (q *PacketQueue) Clear() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}
