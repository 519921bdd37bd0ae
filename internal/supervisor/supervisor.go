// Package supervisor is broker's Supervisor (spec.md §4.9): it boots
// the shared components, spawns one Poller and one Dispatcher per
// integration plus a shared Scan Pool, and coordinates shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/fossas/broker/internal/analyzer"
	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/discovery"
	"github.com/fossas/broker/internal/dispatch"
	"github.com/fossas/broker/internal/gitadapter"
	"github.com/fossas/broker/internal/lockfile"
	"github.com/fossas/broker/internal/poller"
	"github.com/fossas/broker/internal/refstore"
	"github.com/fossas/broker/internal/scanpool"
	"github.com/fossas/broker/internal/uploader"
)

// DrainGrace is the bounded grace period Dispatchers get on shutdown to
// flush queued uploads. In-flight scans get no grace period: they run
// under the Pollers' context, which is canceled as soon as shutdown starts.
const DrainGrace = 30 * time.Second

// supervisorMetrics holds the OTel instruments the Supervisor reports.
// Registered against the global delegating provider; no-op until an
// exporter is configured by the caller.
var supervisorMetrics struct {
	integrationsRunning metric.Int64UpDownCounter
}

func init() {
	m := otel.Meter("github.com/fossas/broker/supervisor")
	supervisorMetrics.integrationsRunning, _ = m.Int64UpDownCounter("broker.integrations_running",
		metric.WithDescription("Number of integrations with an active Poller/Dispatcher pair"),
		metric.WithUnit("{integration}"),
	)
}

// registry implements scanpool.Dispatchers over a plain map built at boot.
type registry map[string]*dispatch.Dispatcher

func (r registry) For(integrationID string) (*dispatch.Dispatcher, bool) {
	d, ok := r[integrationID]
	return d, ok
}

// Supervisor owns every long-running component of one broker process.
type Supervisor struct {
	cfg      *config.Config
	store    *refstore.Store
	log      *slog.Logger
	lockFile *os.File

	dispatchers registry
	pollers     []*poller.Poller
	pool        *scanpool.Pool

	// DrainGrace overrides the package DrainGrace constant; used by
	// tests to keep shutdown fast. Zero means DrainGrace.
	DrainGrace time.Duration
}

func (s *Supervisor) drainGrace() time.Duration {
	if s.DrainGrace <= 0 {
		return DrainGrace
	}
	return s.DrainGrace
}

// Boot takes cfg as already validated by config.Load, opens the
// Reference Store (applying migrations), and constructs every component, per spec.md §4.9's boot
// responsibility. dbPath overrides the Reference Store's location; a
// blank dbPath defaults to "db.sqlite" under dataRoot (spec.md §6.1's
// -d/--database flag). Callers must call Close when done.
func Boot(ctx context.Context, cfg *config.Config, dataRoot, dbPath string, log *slog.Logger) (*Supervisor, error) {
	if log == nil {
		log = slog.Default()
	}
	if dbPath == "" {
		dbPath = filepath.Join(dataRoot, "db.sqlite")
	}

	if err := os.MkdirAll(dataRoot, 0o700); err != nil {
		return nil, fmt.Errorf("supervisor: create data root: %w", err)
	}

	lockPath := filepath.Join(dataRoot, "broker.lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600) // #nosec G304 - fixed filename under our own data root
	if err != nil {
		return nil, fmt.Errorf("supervisor: open %s: %w", lockPath, err)
	}
	if err := lockfile.AcquireExclusive(lockFile); err != nil {
		_ = lockFile.Close()
		if lockfile.IsLocked(err) {
			return nil, fmt.Errorf("supervisor: another broker process already holds %s", lockPath)
		}
		return nil, fmt.Errorf("supervisor: acquire %s: %w", lockPath, err)
	}

	store, err := refstore.Open(ctx, dbPath)
	if err != nil {
		_ = lockfile.Release(lockFile)
		_ = lockFile.Close()
		return nil, fmt.Errorf("supervisor: open reference store: %w", err)
	}

	tempDir := filepath.Join(dataRoot, "broker-queue")
	debugRoot := cfg.Debugging.Location
	if debugRoot == "" {
		debugRoot = filepath.Join(dataRoot, "debug")
	}

	git := gitadapter.New(tempDir)
	an := analyzer.New(dataRoot)
	up := uploader.New(cfg.FossaEndpoint, cfg.FossaIntegrationKey)

	s := &Supervisor{
		cfg:         cfg,
		store:       store,
		log:         log,
		lockFile:    lockFile,
		dispatchers: registry{},
	}

	for _, in := range cfg.Integrations {
		s.dispatchers[in.ID] = dispatch.New(in.ID, store, up, log)
	}

	s.pool = scanpool.New(cfg.Concurrency, tempDir, debugRoot, git, an, s.dispatchers)
	s.pool.Log = log

	disc := discovery.New(store, git)
	for _, in := range cfg.Integrations {
		in := in
		s.pollers = append(s.pollers, &poller.Poller{
			Integration: in,
			Discovery:   disc,
			Pool:        s.pool,
			Log:         log,
		})
	}

	return s, nil
}

// Close releases the Reference Store handle and the data root lock.
// Safe to call once, after Run returns.
func (s *Supervisor) Close() error {
	storeErr := s.store.Close()
	lockErr := lockfile.Release(s.lockFile)
	closeErr := s.lockFile.Close()
	if storeErr != nil {
		return storeErr
	}
	if lockErr != nil {
		return lockErr
	}
	return closeErr
}

// Run spawns one goroutine per Poller and per Dispatcher and blocks
// until ctx is canceled. Pollers stop scheduling new work as soon as
// ctx is done; Dispatchers are given up to DrainGrace to flush queued
// uploads before being force-canceled, per spec.md §4.9 ("drain
// Dispatchers for a bounded grace period, then force-close"). Restart
// invariant: the Reference Store rows are authoritative on every boot,
// so there is no additional in-flight state to recover.
func (s *Supervisor) Run(ctx context.Context) error {
	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()

	var dispatchGroup errgroup.Group
	for _, d := range s.dispatchers {
		d := d
		dispatchGroup.Go(func() error {
			err := d.Run(dispatchCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	pollerGroup, pollerCtx := errgroup.WithContext(ctx)
	for _, p := range s.pollers {
		p := p
		supervisorMetrics.integrationsRunning.Add(ctx, 1)
		pollerGroup.Go(func() error {
			defer supervisorMetrics.integrationsRunning.Add(context.Background(), -1)
			err := p.Run(pollerCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	pollerErr := pollerGroup.Wait()

	s.waitForDrain()
	cancelDispatch()

	dispatchErr := dispatchGroup.Wait()
	if pollerErr != nil {
		return pollerErr
	}
	return dispatchErr
}

// drainPollInterval is how often waitForDrain checks dispatcher queue
// depth while waiting out the grace period.
const drainPollInterval = 50 * time.Millisecond

// waitForDrain blocks for up to drainGrace(), returning early as soon as
// every Dispatcher's queue is empty, per spec.md §5 ("drain Dispatchers
// for up to T_drain"): an idle queue has nothing left to force-cancel,
// so there is no reason to hold the grace period open.
func (s *Supervisor) waitForDrain() {
	grace := time.NewTimer(s.drainGrace())
	defer grace.Stop()

	poll := time.NewTicker(drainPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-grace.C:
			return
		case <-poll.C:
			if s.dispatchersIdle() {
				return
			}
		}
	}
}

func (s *Supervisor) dispatchersIdle() bool {
	for _, d := range s.dispatchers {
		if d.QueueLen() > 0 {
			return false
		}
	}
	return true
}
