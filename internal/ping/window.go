package ping

import "time"

// WindowSize is the number of samples per loss computation.
const WindowSize = 10

// Window is the rolling sample window of one server entry.
type Window struct {
	rtt    [WindowSize]time.Duration
	ok     [WindowSize]bool
	index  int
	filled int

	loss    int
	lastRTT time.Duration
	lastOK  bool
}

// Record stores one sample. When the window is full the packet loss is
// recomputed and the index starts over; Record then returns true.
func (w *Window) Record(rtt time.Duration, success bool) bool {
	w.rtt[w.index] = rtt
	w.ok[w.index] = success
	w.index++
	if w.filled < WindowSize {
		w.filled++
	}
	w.lastRTT, w.lastOK = rtt, success

	if w.index < WindowSize {
		return false
	}

	failures := 0
	for _, ok := range w.ok {
		if !ok {
			failures++
		}
	}
	w.loss = PacketLoss(failures, WindowSize)
	w.index = 0
	return true
}

// PacketLoss returns the loss percentage of a completed window. Both
// operands are floored at one, so a clean window reports a small non-zero
// value.
func PacketLoss(failures, samples int) int {
	return int(float64(max(1, failures)) / float64(max(1, samples)) * 100)
}

// Index returns the slot the next sample goes to.
func (w *Window) Index() int { return w.index }

// Loss returns the loss percentage of the last completed window.
func (w *Window) Loss() int { return w.loss }

// Average returns the mean RTT of the successful samples held.
func (w *Window) Average() time.Duration {
	var sum time.Duration
	n := 0
	for i := 0; i < w.filled; i++ {
		if w.ok[i] {
			sum += w.rtt[i]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}

// Last returns the most recent sample.
func (w *Window) Last() (time.Duration, bool) {
	return w.lastRTT, w.lastOK
}
