package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/metafs/internal/testutil"
)

// run invokes Execute with args and captures both streams.
func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	code := Execute(context.Background(), args, stdout, stderr)
	return code, stdout.String(), stderr.String()
}

func TestExecute_Success(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.bin", []byte("alpha"))
	db := filepath.Join(t.TempDir(), "metafs.db")

	code, stdout, stderr := run(t, "--db", db, "update", root)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "1 files (1 new)")
	assert.NotContains(t, stderr, "Error")
}

func TestExecute_JSONErrorEnvelope(t *testing.T) {
	db := filepath.Join(t.TempDir(), "metafs.db")

	code, stdout, stderr := run(t, "--db", db, "--format", "json", "update", "relative/dir")
	assert.Equal(t, ExitCommandError, code)
	assert.Empty(t, stderr)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidCommand, resp.Error.Code)
	assert.Equal(t, "invalid root", resp.Error.Message)
	assert.Contains(t, resp.Error.Details, "relative/dir")
}

func TestExecute_TextErrorOnStderr(t *testing.T) {
	db := filepath.Join(t.TempDir(), "metafs.db")

	code, stdout, stderr := run(t, "--db", db, "update", "relative/dir")
	assert.Equal(t, ExitCommandError, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Error [E002]: invalid root")
	assert.Contains(t, stderr, "relative/dir")
}

func TestExecute_DigestMismatch(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.bin", []byte("alpha"))
	db := filepath.Join(t.TempDir(), "metafs.db")

	code, _, _ := run(t, "--db", db, "update", root)
	require.Equal(t, ExitSuccess, code)

	code, stdout, _ := run(t, "--db", db, "--format", "yaml", "update", "--hash", "sha256", root)
	assert.Equal(t, ExitCommandError, code)

	var resp CLIResponse
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeDigestMismatch, resp.Error.Code)
	assert.Equal(t, "failed to open database", resp.Error.Message)
}

func TestExecute_RuntimeFailureIsGeneric(t *testing.T) {
	db := filepath.Join(t.TempDir(), "metafs.db")

	code, stdout, _ := run(t, "--db", db, "--format", "json", "query", "SELEC nonsense")
	assert.Equal(t, ExitFailure, code)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeGeneric, resp.Error.Code)
}

func TestExecute_VerboseNarration(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.bin", []byte("alpha"))
	db := filepath.Join(t.TempDir(), "metafs.db")

	code, _, stderr := run(t, "-v", "--db", db, "update", "--workers", "2", root)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stderr, "Opening "+db)
	assert.Contains(t, stderr, "Walking "+root+" with 2 workers")

	code, _, stderr = run(t, "-v", "--db", db, "find", "imports", "ExitProcess")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stderr, "Searching for import ExitProcess")
	assert.Contains(t, stderr, "0 occurrences")
}

func TestExecute_ClosesLogFileOnFailure(t *testing.T) {
	if _, err := os.Stat("/proc/self/fd"); err != nil {
		t.Skip("no /proc/self/fd")
	}
	logFile := filepath.Join(t.TempDir(), "metafs.log")
	db := filepath.Join(t.TempDir(), "metafs.db")

	code, _, _ := run(t, "-v", "--log-file", logFile, "--db", db, "update", "relative/dir")
	require.Equal(t, ExitCommandError, code)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "configuration loaded")
	assert.NotContains(t, openFiles(t), logFile)
}

// openFiles lists the paths this process currently holds open.
func openFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		target, err := os.Readlink(filepath.Join("/proc/self/fd", e.Name()))
		if err == nil {
			paths = append(paths, target)
		}
	}
	return paths
}
