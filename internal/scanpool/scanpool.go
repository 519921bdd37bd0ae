// Package scanpool is broker's Scan Pipeline / Work Pool (spec.md
// §4.8): a global semaphore-gated pipeline that clones a reference at
// its revision, runs the Analyzer Adapter, and hands the result to the
// per-integration Dispatcher.
package scanpool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/fossas/broker/internal/analyzer"
	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/dispatch"
	"github.com/fossas/broker/internal/types"
	"github.com/fossas/broker/internal/uploader"
)

// DefaultConcurrency is the pool's default permit count, per spec.md §6.2.
const DefaultConcurrency = 10

// Cloner is the subset of *gitadapter.Adapter the pool depends on.
type Cloner interface {
	CloneBlobless(ctx context.Context, remote, revision, destDir string, auth config.AuthDescriptor) error
}

// Analyzer is the subset of *analyzer.Adapter the pool depends on.
type Analyzer interface {
	Analyze(ctx context.Context, cloneDir, debugBundleDir string) (*analyzer.Artifact, error)
}

// Dispatchers resolves the Dispatcher registered for an integration.
type Dispatchers interface {
	For(integrationID string) (*dispatch.Dispatcher, bool)
}

// Pool gates concurrent scans across every integration behind a single
// semaphore, per spec.md §4.8.
type Pool struct {
	TempDir     string
	DebugRoot   string
	Git         Cloner
	Analyzer    Analyzer
	Dispatchers Dispatchers
	Log         *slog.Logger

	sem *semaphore.Weighted
}

// New returns a Pool with the given concurrency (permit count).
func New(concurrency int, tempDir, debugRoot string, git Cloner, an Analyzer, dispatchers Dispatchers) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pool{
		TempDir:     tempDir,
		DebugRoot:   debugRoot,
		Git:         git,
		Analyzer:    an,
		Dispatchers: dispatchers,
		sem:         semaphore.NewWeighted(int64(concurrency)),
	}
}

func (p *Pool) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

// Submit acquires a permit and runs the six-step pipeline of spec.md
// §4.8 synchronously; it implements poller.Submitter. Acquiring blocks
// until a permit is free or ctx is canceled.
func (p *Pool) Submit(ctx context.Context, in config.Integration, ref types.Reference) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("scanpool: acquire permit: %w", err)
	}
	defer p.sem.Release(1)

	ws, err := newWorkspace(p.TempDir)
	if err != nil {
		return fmt.Errorf("scanpool: create workspace: %w", err)
	}
	defer ws.Close()

	if err := p.Git.CloneBlobless(ctx, in.Remote, ref.Revision, ws.cloneDir, in.Auth); err != nil {
		// Transient per spec.md §4.8: not recorded, retried next poll cycle.
		p.log().Warn("clone failed", "integration", in.ID, "reference", ref.ShortName(), "revision", ref.Revision, "error", err)
		return nil
	}

	debugDir := filepath.Join(p.DebugRoot, in.ID, ref.Revision)
	artifact, err := p.Analyzer.Analyze(ctx, ws.cloneDir, debugDir)
	if err != nil {
		p.log().Warn("analyze failed", "integration", in.ID, "reference", ref.ShortName(), "revision", ref.Revision, "error", err)
		return nil
	}

	d, ok := p.Dispatchers.For(in.ID)
	if !ok {
		return fmt.Errorf("scanpool: no dispatcher registered for integration %s", in.ID)
	}

	return d.Enqueue(ctx, dispatch.UploadTask{
		Reference: ref,
		Artifact:  artifact,
		Metadata: uploader.Metadata{
			IntegrationID: in.ID,
			Team:          in.Team,
			Title:         in.Title,
			Revision:      ref.Revision,
		},
	})
}

// workspace is a scoped, self-cleaning scan directory under the
// configured temp directory, per spec.md §4.8 step 2.
type workspace struct {
	root     string
	cloneDir string
}

func newWorkspace(tempDir string) (*workspace, error) {
	root := filepath.Join(tempDir, "broker-scan-"+uuid.NewString())
	cloneDir := filepath.Join(root, "clone")
	if err := os.MkdirAll(cloneDir, 0o700); err != nil {
		return nil, err
	}
	return &workspace{root: root, cloneDir: cloneDir}, nil
}

func (w *workspace) Close() error {
	return os.RemoveAll(w.root)
}
