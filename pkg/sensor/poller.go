package sensor

import (
	"context"
	"time"

	ftl "github.com/ftsensor/goftl"
	log "github.com/sirupsen/logrus"
)

// Receives every successful reading of a Poller
type Sink interface {
	Publish(snapshot Snapshot) error
}

// Counters kept by a Poller run
type PollStats struct {
	Cycles    int
	Successes int
	Failures  map[OutcomeKind]int
}

// Poller calls DoComm at a fixed period and hands readings to the sinks.
// A failed cycle is not retried, the next tick runs a new cycle.
type Poller struct {
	Driver *Driver
	Period time.Duration
	// Stop after this many cycles, 0 runs until the context is done
	Cycles int
	Sinks  []Sink
}

func NewPoller(driver *Driver, period time.Duration, sinks ...Sink) *Poller {
	return &Poller{Driver: driver, Period: period, Sinks: sinks}
}

// Run until the context is done, the cycle count is reached or the driver
// is disconnected
func (p *Poller) Run(ctx context.Context) (PollStats, error) {
	stats := PollStats{Failures: make(map[OutcomeKind]int)}
	ticker := time.NewTicker(p.Period)
	defer ticker.Stop()
	for {
		outcome := p.Driver.DoComm()
		stats.Cycles++
		switch outcome.Kind {
		case OutcomeSuccess:
			stats.Successes++
			for _, sink := range p.Sinks {
				if err := sink.Publish(*outcome.Reading); err != nil {
					log.Warnf("[FTL] failed to publish reading %v : %v", outcome.Counter, err)
				}
			}
		case OutcomeInactive, OutcomeClosed:
			stats.Failures[outcome.Kind]++
			return stats, ftl.ErrInvalidState
		default:
			stats.Failures[outcome.Kind]++
		}
		if p.Cycles > 0 && stats.Cycles >= p.Cycles {
			return stats, nil
		}
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-ticker.C:
		}
	}
}
