package filer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/metafs/internal/testutil"
)

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.bin", []byte("same"))
	testutil.WriteFile(t, root, "sub/b.bin", []byte("same"))
	testutil.WriteFile(t, root, "sub/deeper/c.txt", []byte("text"))
	return root
}

func TestUpdate_RelativeRoot(t *testing.T) {
	f := &recordingFiler{}
	_, err := Update(context.Background(), f, "relative/path", Options{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAbsolute))

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "update", cfgErr.Op)
	assert.Empty(t, f.events)
}

func TestUpdate_MissingRoot(t *testing.T) {
	f := &recordingFiler{}
	sum, err := Update(context.Background(), f, filepath.Join(t.TempDir(), "gone"), Options{})

	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	assert.Empty(t, f.events)
}

func TestUpdate_DirectoryOrder(t *testing.T) {
	root := buildTree(t)
	f := &recordingFiler{}

	sum, err := Update(context.Background(), f, root, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"dir " + root,
		"file " + filepath.Join(root, "a.bin"),
		"dir " + filepath.Join(root, "sub"),
		"file " + filepath.Join(root, "sub", "b.bin"),
		"dir " + filepath.Join(root, "sub", "deeper"),
		"file " + filepath.Join(root, "sub", "deeper", "c.txt"),
	}, f.events)
	assert.Equal(t, Summary{Directories: 3, Files: 3}, sum)
}

func TestUpdate_SingleFileRoot(t *testing.T) {
	root := buildTree(t)
	f := &recordingFiler{}

	sum, err := Update(context.Background(), f, filepath.Join(root, "sub", "b.bin"), Options{})
	require.NoError(t, err)

	assert.Empty(t, f.dirs)
	require.Len(t, f.files, 1)
	assert.Equal(t, filepath.Join(root, "sub"), f.files[0].Dir)
	assert.Equal(t, "b.bin", f.files[0].Name)
	assert.Equal(t, Summary{Files: 1}, sum)
}

func TestUpdate_CaseFold(t *testing.T) {
	root := t.TempDir()
	osPath := testutil.WriteFile(t, root, "Sub/File.TXT", []byte("x"))
	f := &recordingFiler{}

	_, err := Update(context.Background(), f, root, Options{CaseFold: true})
	require.NoError(t, err)

	require.Len(t, f.files, 1)
	got := f.files[0]
	assert.Equal(t, osPath, got.OSPath)
	assert.Equal(t, "file.txt", got.Name)
	assert.Equal(t, strings.ToLower(filepath.Join(root, "Sub")), got.Dir)
	assert.FileExists(t, got.OSPath)

	require.Len(t, f.dirs, 2)
	assert.Equal(t, strings.ToLower(root), f.dirs[0].Path)
	assert.Equal(t, root, f.dirs[0].OSPath)
}

func TestUpdate_NoFoldKeepsCase(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "Sub/File.TXT", []byte("x"))
	f := &recordingFiler{}

	_, err := Update(context.Background(), f, root, Options{CaseFold: false})
	require.NoError(t, err)

	require.Len(t, f.files, 1)
	assert.Equal(t, "File.TXT", f.files[0].Name)
	assert.Equal(t, filepath.Join(root, "Sub"), f.files[0].Dir)
}

func TestUpdate_IgnorePatterns(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "keep.bin", []byte("k"))
	testutil.WriteFile(t, root, "scratch.tmp", []byte("t"))
	testutil.WriteFile(t, root, "build/out.bin", []byte("o"))
	testutil.WriteFile(t, root, "src/nested/x.tmp", []byte("t"))
	f := &recordingFiler{}

	sum, err := Update(context.Background(), f, root, Options{Ignore: []string{"*.tmp", "build/"}})
	require.NoError(t, err)

	var names []string
	for _, file := range f.files {
		names = append(names, file.Name)
	}
	assert.Equal(t, []string{"keep.bin"}, names)
	assert.Equal(t, 3, sum.Directories) // root, src, src/nested
}

func TestUpdate_OutcomesCounted(t *testing.T) {
	root := buildTree(t)
	f := &recordingFiler{outcome: func(file File) Outcome {
		switch file.Name {
		case "a.bin":
			return RecordedNew
		case "c.txt":
			return Skipped
		}
		return Recorded
	}}

	sum, err := Update(context.Background(), f, root, Options{})
	require.NoError(t, err)
	assert.Equal(t, Summary{Directories: 3, Files: 2, New: 1, Skipped: 1}, sum)
}

func TestUpdate_FilerErrorAborts(t *testing.T) {
	root := buildTree(t)
	f := &recordingFiler{failName: "b.bin"}

	_, err := Update(context.Background(), f, root, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errStorage))
	assert.NotContains(t, f.events, "dir "+filepath.Join(root, "sub", "deeper"))
}

func TestUpdate_CancelledContext(t *testing.T) {
	root := buildTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Update(ctx, &recordingFiler{}, root, Options{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestUpdate_ParallelMatchesSerial(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 40; i++ {
		testutil.WriteFile(t, root, fmt.Sprintf("d%d/f%02d.bin", i%5, i), []byte{byte(i)})
	}

	serial := &recordingFiler{}
	_, err := Update(context.Background(), serial, root, Options{})
	require.NoError(t, err)

	parallel := &preparingFiler{}
	sum, err := Update(context.Background(), parallel, root, Options{Workers: 8})
	require.NoError(t, err)

	assert.Equal(t, serial.events, parallel.events)
	assert.Equal(t, int64(40), parallel.prepared.Load())
	assert.Equal(t, Summary{Directories: 6, Files: 40}, sum)
}

func TestUpdate_ParallelErrorAborts(t *testing.T) {
	root := buildTree(t)
	f := &preparingFiler{recordingFiler: recordingFiler{failName: "a.bin"}}

	_, err := Update(context.Background(), f, root, Options{Workers: 4})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errStorage))
	assert.Equal(t, []string{"dir " + root}, f.events)
}

func TestUpdate_SerialWhenSingleWorker(t *testing.T) {
	root := buildTree(t)
	f := &preparingFiler{}

	_, err := Update(context.Background(), f, root, Options{Workers: 1})
	require.NoError(t, err)
	assert.Zero(t, f.prepared.Load())
	assert.Len(t, f.files, 3)
}

func TestUpdate_ScanRecorder(t *testing.T) {
	root := buildTree(t)
	f := &scanningFiler{}

	sum, err := Update(context.Background(), f, root, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{root}, f.begun)
	assert.Equal(t, sum, f.finished["scan-1"])
}

func TestUpdate_SymlinkNotDescended(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := buildTree(t)
	require.NoError(t, os.Symlink(filepath.Join(root, "sub"), filepath.Join(root, "link")))
	f := &recordingFiler{}

	sum, err := Update(context.Background(), f, root, Options{})
	require.NoError(t, err)

	// The link itself is reported as a file; the Filer decides to skip it.
	assert.Contains(t, f.events, "file "+filepath.Join(root, "link"))
	assert.Equal(t, 3, sum.Directories)
	assert.Equal(t, 4, sum.Files)
}
