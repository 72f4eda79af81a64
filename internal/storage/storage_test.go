package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whm-backup/internal/backup"
)

func writeArchive(t *testing.T, dir, name, content string) backup.ArchiveFile {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	created, _ := ArchiveTime(name)
	return backup.ArchiveFile{Path: path, Name: name, SizeBytes: int64(len(content)), CreatedAt: created}
}

func TestArchiveTime(t *testing.T) {
	ts, ok := ArchiveTime("cpmove-alice-20250102-030405.tar.gz")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), ts)

	ts, ok = ArchiveTime("cpmove-my-shop-20241231-235959.tar.zst")
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())

	_, ok = ArchiveTime("cpmove-alice.tar.gz")
	assert.False(t, ok)
}

func TestObjectKeys(t *testing.T) {
	assert.Equal(t, "whm-backups/alice/", accountPrefix("whm-backups", "alice"))
	assert.Equal(t, "alice/", accountPrefix("", "alice"))
	assert.Equal(t, "a/b/alice/x.tar.gz", objectKey("/a/b/", "alice", "x.tar.gz"))
}

func TestIsArchive(t *testing.T) {
	assert.True(t, isArchive("cpmove-a-20250101-000000.tar.gz"))
	assert.False(t, isArchive("cpmove-a-20250101-000000.tar.gz.sha256"))
	assert.False(t, isArchive("cpmove-a-20250101-000000.tar.gz.partial"))
	assert.False(t, isArchive(".DS_Store"))
}

func TestMetadataValue(t *testing.T) {
	assert.Equal(t, "abc", metadataValue(map[string]string{"X-Amz-Meta-Sha256": "abc"}, metadataChecksum))
	assert.Equal(t, "def", metadataValue(map[string]string{"sha256": "def"}, metadataChecksum))
	assert.Equal(t, "", metadataValue(nil, metadataChecksum))
}

func TestDiskProber(t *testing.T) {
	p := NewDiskProber()
	report, err := p.CapacityOf(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, report.TotalMB)
	assert.LessOrEqual(t, report.FreeMB, report.TotalMB)

	_, err = p.CapacityOf(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, backup.ErrVolumeUnavailable)
}

func TestExistingAncestor(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, dir, existingAncestor(filepath.Join(dir, "a", "b", "c")))
	assert.Equal(t, dir, existingAncestor(dir))
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	staging := t.TempDir()
	dest := NewLocal(t.TempDir(), "whm-backups", NewDiskProber(), zerolog.Nop())

	file := writeArchive(t, staging, "cpmove-alice-20250102-030405.tar.gz", "archive body")
	ref, err := dest.Transfer(ctx, "alice", file)
	require.NoError(t, err)
	assert.Equal(t, int64(len("archive body")), ref.SizeBytes)
	assert.Len(t, ref.Checksum, 64)
	assert.FileExists(t, ref.Location+checksumSuffix)

	require.NoError(t, dest.Verify(ctx, ref))

	archives, err := dest.ListArchives(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, file.Name, archives[0].Name)
	assert.Equal(t, file.CreatedAt, archives[0].CreatedAt)

	require.NoError(t, dest.DeleteArchive(ctx, "alice", file.Name))
	archives, err = dest.ListArchives(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, archives)
	assert.NoFileExists(t, ref.Location+checksumSuffix)
}

func TestLocalVerifyDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	dest := NewLocal(t.TempDir(), "", NewDiskProber(), zerolog.Nop())
	ref, err := dest.Transfer(ctx, "bob", writeArchive(t, t.TempDir(), "cpmove-bob-20250102-030405.tar.gz", "original"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(ref.Location, []byte("tampered"), 0o600))
	err = dest.Verify(ctx, ref)
	var mismatch *ChecksumMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "sha256", mismatch.Field)

	require.NoError(t, os.WriteFile(ref.Location, []byte("short"), 0o600))
	err = dest.Verify(ctx, ref)
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "size", mismatch.Field)
}

func TestLocalListMissingAccount(t *testing.T) {
	archives, err := NewLocal(t.TempDir(), "p", NewDiskProber(), zerolog.Nop()).ListArchives(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, archives)
}

func TestLocalDeleteRejectsPaths(t *testing.T) {
	dest := NewLocal(t.TempDir(), "", NewDiskProber(), zerolog.Nop())
	assert.Error(t, dest.DeleteArchive(context.Background(), "alice", "../other/file"))
	assert.Error(t, dest.DeleteArchive(context.Background(), "alice", ""))
}

func TestLocalCapacityBeforeFirstWrite(t *testing.T) {
	root := t.TempDir()
	dest := NewLocal(root, "not/yet/created", NewDiskProber(), zerolog.Nop())
	report, err := dest.Capacity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "not/yet/created"), report.Path)
	assert.Positive(t, report.FreeMB)
}

func TestLocalTransferCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	dest := NewLocal(dir, "", NewDiskProber(), zerolog.Nop())
	_, err := dest.Transfer(ctx, "alice", writeArchive(t, t.TempDir(), "cpmove-alice-20250102-030405.tar.gz", "body"))
	assert.ErrorIs(t, err, context.Canceled)

	entries, _ := os.ReadDir(filepath.Join(dir, "alice"))
	assert.Empty(t, entries)
}

func TestNewDestination(t *testing.T) {
	dest, err := New(context.Background(), backup.DestinationConfig{Type: "local", Dir: "/backup", Prefix: "whm"}, NewDiskProber(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "local:/backup/whm", dest.String())

	_, err = New(context.Background(), backup.DestinationConfig{Type: "local"}, NewDiskProber(), zerolog.Nop())
	assert.ErrorIs(t, err, backup.ErrInvalidConfig)

	_, err = New(context.Background(), backup.DestinationConfig{Type: "ftp"}, NewDiskProber(), zerolog.Nop())
	assert.ErrorIs(t, err, backup.ErrInvalidConfig)
}
