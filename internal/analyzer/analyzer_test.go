package analyzer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeFakeAnalyzer drops an executable script named "fossa" into dir
// that exits with the given code after writing marker to stdout.
func writeFakeAnalyzer(t *testing.T, dir string, exitCode int, marker string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake analyzer script is a POSIX shell script")
	}
	script := "#!/bin/sh\necho " + marker + "\nexit " + itoa(exitCode) + "\n"
	path := filepath.Join(dir, binaryName)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func TestAnalyzeSuccess(t *testing.T) {
	binDir := t.TempDir()
	writeFakeAnalyzer(t, binDir, 0, "ok")
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	a := New(t.TempDir())
	cloneDir := t.TempDir()
	artifact, err := a.Analyze(context.Background(), cloneDir, filepath.Join(t.TempDir(), "debug"))
	require.NoError(t, err)
	require.Contains(t, artifact.Stdout, "ok")
}

func TestAnalyzeNonZeroExitIsAnalyzerError(t *testing.T) {
	binDir := t.TempDir()
	writeFakeAnalyzer(t, binDir, 3, "boom")
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	a := New(t.TempDir())
	_, err := a.Analyze(context.Background(), t.TempDir(), filepath.Join(t.TempDir(), "debug"))
	require.Error(t, err)
	var analyzerErr *AnalyzerError
	require.True(t, errors.As(err, &analyzerErr))
	require.Equal(t, 3, analyzerErr.ExitCode)
	require.Contains(t, analyzerErr.Output, "boom")
}

func TestResolveBinaryFallsBackToDataRoot(t *testing.T) {
	t.Setenv("PATH", "")
	dataRoot := t.TempDir()
	writeFakeAnalyzer(t, dataRoot, 0, "ok")

	a := New(dataRoot)
	path, err := a.ResolveBinary()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dataRoot, binaryName), path)
}

func TestResolveBinaryMissingIsError(t *testing.T) {
	t.Setenv("PATH", "")
	a := New(t.TempDir())
	_, err := a.ResolveBinary()
	require.Error(t, err)
}
