package archive

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	zr, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	entries := map[string]string{}
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = string(data)
	}
	return entries
}

func TestDirArchiverCreateArchive(t *testing.T) {
	root := t.TempDir()
	home := filepath.Join(root, "alice")
	require.NoError(t, os.MkdirAll(filepath.Join(home, "public_html"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "public_html", "index.html"), []byte("<h1>hi</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".bashrc"), []byte("export A=1"), 0o644))

	staging := t.TempDir()
	a := NewDirArchiver(root, zerolog.Nop())
	a.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	file, err := a.CreateArchive(context.Background(), "alice", staging)
	require.NoError(t, err)
	assert.Equal(t, "cpmove-alice-20250102-030405.tar.zst", file.Name)
	assert.Positive(t, file.SizeBytes)

	entries := readEntries(t, file.Path)
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"alice/", "alice/.bashrc", "alice/public_html/", "alice/public_html/index.html"}, names)
	assert.Equal(t, "<h1>hi</h1>", entries["alice/public_html/index.html"])

	require.NoError(t, a.Cleanup(context.Background(), file))
	assert.NoFileExists(t, file.Path)
}

func TestDirArchiverMissingAccount(t *testing.T) {
	staging := t.TempDir()
	_, err := NewDirArchiver(t.TempDir(), zerolog.Nop()).CreateArchive(context.Background(), "ghost", staging)
	require.Error(t, err)

	entries, _ := os.ReadDir(staging)
	assert.Empty(t, entries)
}

func TestDirArchiverCancelled(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bob"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bob", "file"), []byte("x"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	staging := t.TempDir()
	_, err := NewDirArchiver(root, zerolog.Nop()).CreateArchive(ctx, "bob", staging)
	assert.ErrorIs(t, err, context.Canceled)

	entries, _ := os.ReadDir(staging)
	assert.Empty(t, entries, "partial archive must be removed")
}
