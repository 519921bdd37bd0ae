// Package poller is broker's Per-Integration Poller (spec.md §4.7): a
// simple state machine that runs Discovery on a fixed interval and
// submits the references it surfaces to the Scan Pool.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/gitadapter"
	"github.com/fossas/broker/internal/types"
)

// State names a position in the poller's Idle -> Discovering ->
// Scheduling -> Sleeping -> Idle state machine.
type State int

const (
	Idle State = iota
	Discovering
	Scheduling
	Sleeping
)

// Discoverer is the subset of *discovery.Discovery a Poller depends on.
type Discoverer interface {
	Run(ctx context.Context, in config.Integration) ([]types.Reference, error)
}

// Submitter accepts one discovered reference for scanning. Implemented
// by the Scan Pool; submission may block on pool capacity or dispatcher
// backpressure, which the poller is designed to tolerate (spec.md §4.7).
type Submitter interface {
	Submit(ctx context.Context, in config.Integration, ref types.Reference) error
}

// Poller runs Discovery for one integration on in.PollInterval, with an
// immediate first tick.
type Poller struct {
	Integration config.Integration
	Discovery   Discoverer
	Pool        Submitter
	Log         *slog.Logger

	state State
}

// State reports the poller's current position, for diagnostics/tests.
func (p *Poller) State() State { return p.state }

func (p *Poller) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

// Run executes the poll loop until ctx is canceled. The first cycle
// fires immediately; thereafter it fires every Integration.PollInterval,
// per spec.md §4.7 ("Initial tick: immediately on startup").
func (p *Poller) Run(ctx context.Context) error {
	interval := time.Duration(p.Integration.PollInterval)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			p.cycle(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			timer.Reset(interval)
		}
	}
}

// cycle runs one Discovering/Scheduling/Sleeping pass.
func (p *Poller) cycle(ctx context.Context) {
	p.state = Discovering
	refs, err := p.Discovery.Run(ctx, p.Integration)
	if err != nil {
		var authErr *gitadapter.AuthError
		var transportErr *gitadapter.TransportError
		if errors.As(err, &authErr) || errors.As(err, &transportErr) {
			p.log().Info("discovery failed, sleeping", "integration", p.Integration.ID, "error", err)
			p.state = Sleeping
			return
		}
		p.log().Error("discovery error", "integration", p.Integration.ID, "error", err)
		p.state = Sleeping
		return
	}

	p.state = Scheduling
	for _, ref := range refs {
		if err := p.Pool.Submit(ctx, p.Integration, ref); err != nil {
			if ctx.Err() != nil {
				// Cancellation: abandon remaining references and exit promptly.
				return
			}
			p.log().Error("submit failed", "integration", p.Integration.ID, "reference", ref.ShortName(), "error", err)
		}
	}

	p.state = Sleeping
}
