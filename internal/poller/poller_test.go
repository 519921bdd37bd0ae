package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/gitadapter"
	"github.com/fossas/broker/internal/types"
)

type fakeDiscovery struct {
	refs []types.Reference
	err  error
	runs int32
}

func (f *fakeDiscovery) Run(ctx context.Context, in config.Integration) ([]types.Reference, error) {
	atomic.AddInt32(&f.runs, 1)
	return f.refs, f.err
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []types.Reference
}

func (f *fakeSubmitter) Submit(ctx context.Context, in config.Integration, ref types.Reference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, ref)
	return nil
}

func TestPollerFirstTickIsImmediate(t *testing.T) {
	disc := &fakeDiscovery{refs: []types.Reference{{Name: "refs/heads/main"}}}
	sub := &fakeSubmitter{}
	p := &Poller{
		Integration: config.Integration{ID: "int1", PollInterval: config.Duration(time.Hour)},
		Discovery:   disc,
		Pool:        sub,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	require.GreaterOrEqual(t, atomic.LoadInt32(&disc.runs), int32(1))
	sub.mu.Lock()
	defer sub.mu.Unlock()
	require.Len(t, sub.submitted, 1)
}

func TestPollerAuthErrorSleepsWithoutPanicking(t *testing.T) {
	disc := &fakeDiscovery{err: &gitadapter.AuthError{Remote: "r", Detail: "denied"}}
	sub := &fakeSubmitter{}
	p := &Poller{
		Integration: config.Integration{ID: "int1", PollInterval: config.Duration(time.Hour)},
		Discovery:   disc,
		Pool:        sub,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	require.Equal(t, Sleeping, p.State())
}
