package gitadapter

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/types"
)

// initBareRemote creates a local repo with one commit on main and one
// tag, and returns its filesystem path for use as a "remote".
func initBareRemote(t *testing.T) (remote string, commit string) {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) string {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test.invalid",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test.invalid")
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
		return string(out)
	}
	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("hello"), 0o644))
	run("add", "f.txt")
	run("commit", "-m", "initial")
	run("tag", "v1.0.0")

	head := run("rev-parse", "HEAD")
	return dir, head[:40]
}

func noneAuth() config.AuthDescriptor {
	return config.AuthDescriptor{Type: config.AuthNone, Transport: config.TransportHTTP}
}

func TestListRefsReturnsBranchAndTag(t *testing.T) {
	remote, commit := initBareRemote(t)
	a := New(t.TempDir())

	refs, err := a.ListRefs(context.Background(), "int1", remote, noneAuth())
	require.NoError(t, err)
	require.Len(t, refs, 2)

	byKind := map[types.Kind]types.Reference{}
	for _, r := range refs {
		byKind[r.Kind] = r
	}
	require.Equal(t, "refs/heads/main", byKind[types.KindBranch].Name)
	require.Equal(t, commit, byKind[types.KindBranch].Revision)
	require.Equal(t, "refs/tags/v1.0.0", byKind[types.KindTag].Name)
}

func TestListRefsUnknownRemoteIsError(t *testing.T) {
	a := New(t.TempDir())
	_, err := a.ListRefs(context.Background(), "int1", "/nonexistent/path/to/repo", noneAuth())
	require.Error(t, err)
}

func TestCloneBloblessChecksOutRevision(t *testing.T) {
	remote, commit := initBareRemote(t)
	a := New(t.TempDir())
	dest := filepath.Join(t.TempDir(), "clone")

	err := a.CloneBlobless(context.Background(), remote, commit, dest, noneAuth())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dest, "f.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestCloneBloblessRemovesDestOnFailure(t *testing.T) {
	a := New(t.TempDir())
	dest := filepath.Join(t.TempDir(), "clone")

	err := a.CloneBlobless(context.Background(), "/nonexistent/path/to/repo", "deadbeef", dest, noneAuth())
	require.Error(t, err)
	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
}

func TestClassifyErrorScrubsSecretsFromSurfacedDetail(t *testing.T) {
	auth := config.AuthDescriptor{Type: config.AuthHTTPBasic, Username: config.NewSecret("bob"), Password: config.NewSecret("super-secret-token")}
	creds, err := materialize(auth, t.TempDir())
	require.NoError(t, err)

	var secretArg string
	for k := range creds.scrub {
		secretArg = k
	}
	require.NotEmpty(t, secretArg)

	output := []byte("fatal: Authentication failed for 'https://example.invalid/repo.git': " + secretArg)
	classified := classifyError(creds, "https://example.invalid/repo.git", output, os.ErrClosed)

	var authErr *AuthError
	require.ErrorAs(t, classified, &authErr)
	require.NotContains(t, authErr.Detail, secretArg)
	require.Contains(t, authErr.Detail, "[redacted]")
}

func TestAdapterRespectsTimeout(t *testing.T) {
	a := New(t.TempDir())
	a.Timeout = 1 * time.Nanosecond
	_, err := a.ListRefs(context.Background(), "int1", "https://example.invalid/repo.git", noneAuth())
	require.Error(t, err)
}
