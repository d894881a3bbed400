package client

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// PacketHandler consumes one inbound packet. The buffer includes the
// opcode and is only valid for the duration of the call.
type PacketHandler func(pkt []byte)

type handlerEntry struct {
	name    string
	handler PacketHandler
}

// Dispatcher routes non-handshake packets to handlers registered by
// opcode. A panicking handler is recovered and logged.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[byte][]handlerEntry
	logger   zerolog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[byte][]handlerEntry),
		logger:   logger,
	}
}

// Register adds a handler for opcode under name. Registering the same
// name twice replaces the earlier handler.
func (d *Dispatcher) Register(opcode byte, name string, handler PacketHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.handlers[opcode]
	for i, e := range entries {
		if e.name == name {
			entries[i].handler = handler
			return
		}
	}
	d.handlers[opcode] = append(entries, handlerEntry{name: name, handler: handler})
}

// Unregister removes the named handler for opcode.
func (d *Dispatcher) Unregister(opcode byte, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.handlers[opcode]
	for i, e := range entries {
		if e.name == name {
			d.handlers[opcode] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Dispatch delivers pkt to every handler of its opcode and reports
// whether any handler was registered.
func (d *Dispatcher) Dispatch(pkt []byte) bool {
	if len(pkt) == 0 {
		return false
	}

	d.mu.RLock()
	entries := append([]handlerEntry(nil), d.handlers[pkt[0]]...)
	d.mu.RUnlock()

	for _, e := range entries {
		d.call(e, pkt)
	}
	return len(entries) > 0
}

func (d *Dispatcher) call(e handlerEntry, pkt []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("handler", e.name).
				Str("packet", fmt.Sprintf("0x%02X", pkt[0])).
				Interface("panic", r).
				Msg("packet handler panicked")
		}
	}()
	e.handler(pkt)
}
