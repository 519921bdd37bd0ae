// Package analyzer is broker's Analyzer Adapter (spec.md §4.3): it
// resolves and invokes the external "fossa" analysis CLI against a
// clone directory and collects its output as an upload artifact.
package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// DefaultTimeout bounds a single analyzer invocation, per spec.md §5.
const DefaultTimeout = 15 * time.Minute

// binaryName is the analyzer executable broker shells out to.
const binaryName = "fossa"

// AnalyzerError reports that the analyzer exited non-zero. Per spec.md
// §4.3 this is a non-fatal warning: callers should log and continue,
// not treat it as a fatal error.
type AnalyzerError struct {
	CloneDir string
	ExitCode int
	Output   string
}

func (e *AnalyzerError) Error() string {
	return fmt.Sprintf("analyzer exited %d for %s", e.ExitCode, e.CloneDir)
}

// Artifact is the opaque blob-plus-metadata produced by a successful
// analysis run, suitable for the Uploader (spec.md §4.3/§4.4).
type Artifact struct {
	// Dir is the debug bundle / output directory the analyzer wrote to.
	Dir string
	// Stdout and Stderr are the captured subprocess streams, retained
	// for the upload debug bundle and for diagnostics on failure.
	Stdout string
	Stderr string
}

// Adapter resolves and invokes the analyzer binary.
type Adapter struct {
	// DataRoot is broker's data root; a downloaded analyzer binary, if
	// any, lives at filepath.Join(DataRoot, "fossa").
	DataRoot string
	// Timeout bounds each analyzer invocation. Zero means DefaultTimeout.
	Timeout time.Duration
}

// New returns an Adapter that falls back to dataRoot/fossa when the
// analyzer isn't on PATH.
func New(dataRoot string) *Adapter {
	return &Adapter{DataRoot: dataRoot, Timeout: DefaultTimeout}
}

// ResolveBinary finds the analyzer executable: first on the process
// PATH, then as a prior download under DataRoot, per spec.md §4.3.
func (a *Adapter) ResolveBinary() (string, error) {
	if path, err := exec.LookPath(binaryName); err == nil {
		return path, nil
	}
	fallback := filepath.Join(a.DataRoot, binaryName)
	if info, err := os.Stat(fallback); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
		return fallback, nil
	}
	return "", fmt.Errorf("analyzer: %q not found on PATH or at %s (download not yet fetched)", binaryName, fallback)
}

// Analyze runs the analyzer against cloneDir and returns the resulting
// Artifact. A non-zero analyzer exit is reported as *AnalyzerError, not
// a transport-level error: callers treat it as a non-fatal warning per
// spec.md §4.3.
func (a *Adapter) Analyze(ctx context.Context, cloneDir, debugBundleDir string) (*Artifact, error) {
	bin, err := a.ResolveBinary()
	if err != nil {
		return nil, err
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := os.MkdirAll(debugBundleDir, 0o700); err != nil {
		return nil, fmt.Errorf("analyzer: create debug bundle dir: %w", err)
	}

	// #nosec G204 - bin is resolved internally (PATH lookup or a path under our own data root), not user input
	cmd := exec.CommandContext(ctx, bin, "analyze", "--output", debugBundleDir)
	cmd.Dir = cloneDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("analyzer: timed out after %s: %w", timeout, ctx.Err())
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &AnalyzerError{
			CloneDir: cloneDir,
			ExitCode: exitCode,
			Output:   stdout.String() + stderr.String(),
		}
	}

	return &Artifact{
		Dir:    debugBundleDir,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}, nil
}
