// Package gitadapter wraps the system git executable: listing remote
// references, blobless clones at a specific revision, and credential
// materialization, per spec.md §4.2.
package gitadapter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/types"
)

// DefaultTimeout bounds one ListRefs or CloneBlobless call. The timeout
// is shared by every git subprocess that call runs: CloneBlobless's
// clone, fetch and checkout together get one DefaultTimeout, not one each.
const DefaultTimeout = 2 * time.Minute

// Adapter invokes the git CLI on behalf of broker.
type Adapter struct {
	// KeyDir is the directory short-lived SSH key files are written
	// under (broker's configured temp directory).
	KeyDir string
	// Timeout bounds each ListRefs or CloneBlobless call, across all the
	// git subprocesses it runs. Zero means DefaultTimeout.
	Timeout time.Duration
}

// New returns an Adapter that materializes SSH key files under keyDir.
func New(keyDir string) *Adapter {
	return &Adapter{KeyDir: keyDir, Timeout: DefaultTimeout}
}

func (a *Adapter) timeout() time.Duration {
	if a.Timeout <= 0 {
		return DefaultTimeout
	}
	return a.Timeout
}

var lsRemoteLineRe = regexp.MustCompile(`^([0-9a-f]{40})\t(refs/(?:heads|tags)/\S+)(?:\^\{\})?$`)

// ListRefs lists every branch and tag head in integration's remote,
// classifying each per spec.md §4.6. Peeled tag entries ("^{}") are not
// returned as references of their own: for an annotated tag the peeled
// entry's commit ID replaces the tag object ID as the tag's Revision.
func (a *Adapter) ListRefs(ctx context.Context, integrationID, remote string, auth config.AuthDescriptor) ([]types.Reference, error) {
	creds, err := materialize(auth, a.KeyDir)
	if err != nil {
		return nil, err
	}
	defer creds.cleanup()

	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	args := append(append([]string{}, creds.extraArgs...), "ls-remote", "--heads", "--tags", remote)
	out, err := a.run(ctx, creds, args...)
	if err != nil {
		return nil, classifyError(creds, remote, out, err)
	}

	index := make(map[string]int)
	var refs []types.Reference
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		m := lsRemoteLineRe.FindStringSubmatch(line)
		if m == nil {
			if strings.Contains(line, "^{}") {
				continue // peeled tag pointer, superseded by the unpeeled entry
			}
			return nil, &ProtocolError{Remote: remote, Detail: creds.scrubSecrets(line)}
		}
		revision, name := m[1], m[2]
		if base, peeled := strings.CutSuffix(name, "^{}"); peeled {
			if i, ok := index[base]; ok {
				refs[i].Revision = revision
			}
			continue
		}
		if _, ok := index[name]; ok {
			continue
		}
		index[name] = len(refs)

		kind := types.KindBranch
		if strings.HasPrefix(name, "refs/tags/") {
			kind = types.KindTag
		}
		refs = append(refs, types.Reference{
			IntegrationID: integrationID,
			Kind:          kind,
			Name:          name,
			Revision:      revision,
		})
	}
	return refs, nil
}

// CloneBlobless performs a partial (blobless) clone of remote into
// destDir and checks it out at revision, per spec.md §4.2. On any
// failure destDir is left removed.
func (a *Adapter) CloneBlobless(ctx context.Context, remote, revision, destDir string, auth config.AuthDescriptor) error {
	creds, err := materialize(auth, a.KeyDir)
	if err != nil {
		return err
	}
	defer creds.cleanup()

	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	cloneArgs := append(append([]string{}, creds.extraArgs...),
		"clone", "--filter=blob:none", "--no-checkout", remote, destDir)
	if out, err := a.run(ctx, creds, cloneArgs...); err != nil {
		_ = os.RemoveAll(destDir)
		return classifyError(creds, remote, out, err)
	}

	fetchArgs := append(append([]string{"-C", destDir}, creds.extraArgs...),
		"fetch", "--depth=1", "origin", revision)
	if out, err := a.run(ctx, creds, fetchArgs...); err != nil {
		_ = os.RemoveAll(destDir)
		return classifyError(creds, remote, out, err)
	}

	checkoutArgs := []string{"-C", destDir, "checkout", "--detach", revision}
	if out, err := a.run(ctx, creds, checkoutArgs...); err != nil {
		_ = os.RemoveAll(destDir)
		return classifyError(creds, remote, out, err)
	}

	return nil
}

// run executes git with an environment that disables interactive
// prompts and credential helpers, per spec.md §6.4.
func (a *Adapter) run(ctx context.Context, creds *credentials, args ...string) ([]byte, error) {
	// #nosec G204 - args are built internally from validated config, never raw user input
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_ASKPASS=",
		"GIT_CONFIG_NOSYSTEM=1",
	)
	cmd.Env = append(cmd.Env, creds.env...)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := buf.Bytes()
	if err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("git %s timed out: %w", args[0], ctx.Err())
		}
	}
	return out, err
}
