package ping

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultInterval is the time between probe cycles.
const DefaultInterval = 2 * time.Second

// Source returns the probes of the current server list. Entries own their
// probes; the prober only triggers them.
type Source func() []*Probe

// Prober triggers every probe of a source on a fixed interval.
type Prober struct {
	source   Source
	interval time.Duration
	logger   zerolog.Logger
}

// NewProber creates a prober over source.
func NewProber(source Source, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Prober{
		source:   source,
		interval: interval,
		logger:   log.With().Str("component", "prober").Logger(),
	}
}

// Run probes until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	p.logger.Info().Dur("interval", p.interval).Msg("server prober started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("server prober stopped")
			return
		case <-ticker.C:
			p.Cycle(ctx)
		}
	}
}

// Cycle triggers every idle probe and returns how many requests started.
func (p *Prober) Cycle(ctx context.Context) int {
	started := 0
	for _, probe := range p.source() {
		if probe != nil && probe.Trigger(ctx) {
			started++
		}
	}
	if started > 0 {
		p.logger.Trace().Int("probes", started).Msg("probe cycle")
	}
	return started
}
