package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fossas/broker/internal/config"
)

func writeTestConfig(t *testing.T, dataRoot string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	contents := `
version: 1
fossa_endpoint: https://app.fossa.invalid
fossa_integration_key: test-key
debugging:
  location: ` + filepath.Join(dataRoot, "debug") + `
  retention:
    days: 7
integrations:
  - type: git
    remote: https://example.invalid/repo.git
    poll_interval: 1h
    auth:
      type: none
      transport: http
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestBootOpensStoreAndConstructsComponents(t *testing.T) {
	dataRoot := t.TempDir()
	cfg := writeTestConfig(t, dataRoot)

	s, err := Boot(context.Background(), cfg, dataRoot, "", nil)
	require.NoError(t, err)
	defer s.Close()

	require.Len(t, s.pollers, 1)
	require.Len(t, s.dispatchers, 1)
}

func TestBootRefusesSecondProcessOnSameDataRoot(t *testing.T) {
	dataRoot := t.TempDir()
	cfg := writeTestConfig(t, dataRoot)

	first, err := Boot(context.Background(), cfg, dataRoot, "", nil)
	require.NoError(t, err)
	defer first.Close()

	_, err = Boot(context.Background(), cfg, dataRoot, "", nil)
	require.Error(t, err)
}

func TestBootHonorsExplicitDBPath(t *testing.T) {
	dataRoot := t.TempDir()
	cfg := writeTestConfig(t, dataRoot)
	dbPath := filepath.Join(t.TempDir(), "custom.sqlite")

	s, err := Boot(context.Background(), cfg, dataRoot, dbPath, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dataRoot, "db.sqlite"))
	require.True(t, os.IsNotExist(err))
}

func TestRunDrainsEarlyWhenDispatcherQueueIsEmpty(t *testing.T) {
	dataRoot := t.TempDir()
	cfg := writeTestConfig(t, dataRoot)

	s, err := Boot(context.Background(), cfg, dataRoot, "", nil)
	require.NoError(t, err)
	defer s.Close()
	s.DrainGrace = time.Minute // would time out the test if not exited early

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not drain early with an empty dispatcher queue")
	}
}

func TestRunStopsPromptlyOnCancellation(t *testing.T) {
	dataRoot := t.TempDir()
	cfg := writeTestConfig(t, dataRoot)

	s, err := Boot(context.Background(), cfg, dataRoot, "", nil)
	require.NoError(t, err)
	defer s.Close()
	s.DrainGrace = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not shut down within grace period")
	}
}
