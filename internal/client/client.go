// Package client drives the main tick: it runs queued commands, drains a
// bounded number of inbound packets, routes them to the handshake or to
// registered handlers and polls the reconnect policy.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uolink-project/uolink/internal/login"
	"github.com/uolink-project/uolink/internal/network"
	"github.com/uolink-project/uolink/internal/protocol"
)

// Defaults for Options.
const (
	DefaultPacketsPerTick = 25
	DefaultTickInterval   = 16 * time.Millisecond
	DefaultKeepAlive      = 30 * time.Second
	DefaultMailboxSize    = 64
)

// ErrMailboxFull is returned when a command cannot be queued.
var ErrMailboxFull = errors.New("command mailbox full")

// Command runs on the tick goroutine with exclusive use of the handshake.
type Command func(h *login.Handshake)

// Options configures a Client.
type Options struct {
	PacketsPerTick int
	TickInterval   time.Duration
	KeepAlive      time.Duration
	MailboxSize    int
}

func (o *Options) applyDefaults() {
	if o.PacketsPerTick <= 0 {
		o.PacketsPerTick = DefaultPacketsPerTick
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = DefaultMailboxSize
	}
}

// Status is a point-in-time view of the client for the API and shell.
type Status struct {
	Step       login.Step       `json:"step"`
	Account    string           `json:"account"`
	Address    string           `json:"address"`
	Connected  bool             `json:"connected"`
	Server     string           `json:"server"`
	Queued     int              `json:"queued"`
	Processed  uint64           `json:"processed"`
	Ticks      uint64           `json:"ticks"`
	Traffic    network.Snapshot `json:"traffic"`
	Error      string           `json:"error,omitempty"`
	PingMillis int64            `json:"ping_ms"`
}

// Client owns the tick loop. Handshake mutations happen only on the tick
// goroutine; other goroutines go through Post or Exec.
type Client struct {
	opts       Options
	handshake  *login.Handshake
	queue      *network.PacketQueue
	stats      *network.Statistics
	dispatcher *Dispatcher
	mailbox    chan Command
	logger     zerolog.Logger
	now        func() time.Time

	mu            sync.Mutex
	ticks         uint64
	pingSeq       byte
	pingPending   bool
	pingSentAt    time.Time
	lastKeepAlive time.Time
}

// New creates a client over a handshake whose transports feed queue and
// record into stats.
func New(h *login.Handshake, queue *network.PacketQueue, stats *network.Statistics, opts Options) *Client {
	opts.applyDefaults()
	logger := log.With().Str("component", "client").Logger()
	return &Client{
		opts:       opts,
		handshake:  h,
		queue:      queue,
		stats:      stats,
		dispatcher: NewDispatcher(logger),
		mailbox:    make(chan Command, opts.MailboxSize),
		logger:     logger,
		now:        time.Now,
	}
}

// Handshake returns the login state machine. Only read accessors may be
// used outside the tick goroutine.
func (c *Client) Handshake() *login.Handshake {
	return c.handshake
}

// Dispatcher returns the dispatcher for non-handshake opcodes.
func (c *Client) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// Post queues cmd for the next tick without waiting.
func (c *Client) Post(cmd Command) error {
	select {
	case c.mailbox <- cmd:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Exec queues cmd and waits until the tick has run it.
func (c *Client) Exec(ctx context.Context, cmd Command) error {
	done := make(chan struct{})
	wrapped := func(h *login.Handshake) {
		defer close(done)
		cmd(h)
	}

	select {
	case c.mailbox <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run ticks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	c.logger.Info().
		Dur("interval", c.opts.TickInterval).
		Int("packets_per_tick", c.opts.PacketsPerTick).
		Msg("client loop started")

	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("client loop stopped")
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick runs one iteration and returns the number of packets drained.
func (c *Client) Tick() int {
	c.runMailbox()
	n := c.queue.Drain(c.opts.PacketsPerTick, c.dispatch)
	c.handshake.HandleReconnect()
	c.keepAlive()

	c.mu.Lock()
	c.ticks++
	c.mu.Unlock()
	return n
}

func (c *Client) runMailbox() {
	for {
		select {
		case cmd := <-c.mailbox:
			c.runCommand(cmd)
		default:
			return
		}
	}
}

func (c *Client) runCommand(cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("command panicked")
		}
	}()
	cmd(c.handshake)
}

func (c *Client) dispatch(pkt []byte) {
	if len(pkt) == 0 {
		return
	}
	if e := c.logger.Trace(); e.Enabled() {
		e.Str("packet", fmt.Sprintf("0x%02X", pkt[0])).Int("length", len(pkt)).Msg("packet received")
	}

	if c.handshake.Handle(pkt) {
		return
	}
	if pkt[0] == protocol.PktPing {
		c.handlePingEcho(pkt)
	}
	c.dispatcher.Dispatch(pkt)
}

func (c *Client) handlePingEcho(pkt []byte) {
	if len(pkt) < 2 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.pingPending || pkt[1] != c.pingSeq {
		return
	}
	c.pingPending = false
	rtt := c.now().Sub(c.pingSentAt)
	c.stats.RecordPing(rtt)
	c.logger.Trace().Dur("rtt", rtt).Msg("ping echo")
}

func inGame(s login.Step) bool {
	switch s {
	case login.CharacterSelection, login.CharacterCreation, login.EnteringWorld:
		return true
	}
	return false
}

func (c *Client) keepAlive() {
	if !inGame(c.handshake.Step()) || !c.handshake.IsConnected() {
		return
	}

	c.mu.Lock()
	now := c.now()
	if c.lastKeepAlive.IsZero() {
		c.lastKeepAlive = now
		c.mu.Unlock()
		return
	}
	if now.Sub(c.lastKeepAlive) < c.opts.KeepAlive {
		c.mu.Unlock()
		return
	}
	c.pingSeq++
	seq := c.pingSeq
	c.pingPending = true
	c.pingSentAt = now
	c.lastKeepAlive = now
	c.mu.Unlock()

	if err := c.handshake.Send(protocol.BuildPing(seq)); err != nil {
		c.logger.Debug().Err(err).Msg("failed to send ping")
	}
}

// Status returns a snapshot of the client.
func (c *Client) Status() Status {
	h := c.handshake
	_, server := h.SelectedServer()
	snap := c.stats.Snapshot()

	c.mu.Lock()
	ticks := c.ticks
	c.mu.Unlock()

	s := Status{
		Step:       h.Step(),
		Account:    h.Account(),
		Address:    h.Address(),
		Connected:  h.IsConnected(),
		Server:     server,
		Queued:     c.queue.Len(),
		Processed:  c.queue.Processed(),
		Ticks:      ticks,
		Traffic:    snap,
		PingMillis: snap.PingMs,
	}
	if info, ok := h.LastError(); ok {
		s.Error = info.Message
	}
	return s
}
