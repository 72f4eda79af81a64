package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"whm-backup/internal/backup"
)

// Local keeps archives under <dir>/<prefix>/<account>/ on a mounted
// filesystem, each with a .sha256 sidecar.
type Local struct {
	root   string
	prober backup.VolumeProber
	logger zerolog.Logger
}

// NewLocal returns a destination rooted at dir/prefix.
func NewLocal(dir, prefix string, prober backup.VolumeProber, logger zerolog.Logger) *Local {
	return &Local{
		root:   filepath.Join(dir, prefix),
		prober: prober,
		logger: logger.With().Str("component", "destination").Str("type", "local").Logger(),
	}
}

func (l *Local) String() string {
	return "local:" + l.root
}

func (l *Local) accountDir(accountID string) string {
	return filepath.Join(l.root, accountID)
}

func (l *Local) Transfer(ctx context.Context, accountID string, file backup.ArchiveFile) (backup.RemoteRef, error) {
	dir := l.accountDir(accountID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return backup.RemoteRef{}, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	target := filepath.Join(dir, file.Name)
	sum, size, err := copyWithChecksum(ctx, file.Path, target+partialSuffix)
	if err != nil {
		os.Remove(target + partialSuffix)
		return backup.RemoteRef{}, err
	}
	if err := os.Rename(target+partialSuffix, target); err != nil {
		os.Remove(target + partialSuffix)
		return backup.RemoteRef{}, fmt.Errorf("failed to finalize %s: %w", target, err)
	}

	sidecar := fmt.Sprintf("%s  %s\n", sum, file.Name)
	if err := os.WriteFile(target+checksumSuffix, []byte(sidecar), 0o640); err != nil {
		return backup.RemoteRef{}, fmt.Errorf("writing sha256 sidecar: %w", err)
	}

	l.logger.Debug().Str("account", accountID).Str("path", target).Int64("bytes", size).Msg("Archive stored")
	return backup.RemoteRef{
		AccountID: accountID,
		Name:      file.Name,
		Location:  target,
		SizeBytes: size,
		Checksum:  sum,
		CreatedAt: file.CreatedAt,
	}, nil
}

func copyWithChecksum(ctx context.Context, src, dst string) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, h), &ctxReader{ctx: ctx, r: in})
	if err != nil {
		return "", 0, fmt.Errorf("failed to copy archive: %w", err)
	}
	if err := out.Sync(); err != nil {
		return "", 0, fmt.Errorf("failed to sync %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Verify re-reads the stored archive and compares size and digest.
func (l *Local) Verify(ctx context.Context, ref backup.RemoteRef) error {
	sum, size, err := SHA256File(ref.Location)
	if err != nil {
		return fmt.Errorf("failed to read stored archive: %w", err)
	}
	if size != ref.SizeBytes {
		return &ChecksumMismatchError{Location: ref.Location, Field: "size", Want: strconv.FormatInt(ref.SizeBytes, 10), Got: strconv.FormatInt(size, 10)}
	}
	if ref.Checksum != "" && sum != ref.Checksum {
		return &ChecksumMismatchError{Location: ref.Location, Field: "sha256", Want: ref.Checksum, Got: sum}
	}

	sidecar, err := os.ReadFile(ref.Location + checksumSuffix)
	if err != nil {
		return fmt.Errorf("failed to read sha256 sidecar: %w", err)
	}
	if fields := strings.Fields(string(sidecar)); len(fields) == 0 || fields[0] != sum {
		return &ChecksumMismatchError{Location: ref.Location + checksumSuffix, Field: "sha256", Want: sum, Got: strings.TrimSpace(string(sidecar))}
	}
	return nil
}

func (l *Local) ListArchives(ctx context.Context, accountID string) ([]backup.Archive, error) {
	entries, err := os.ReadDir(l.accountDir(accountID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list archives for %s: %w", accountID, err)
	}

	var archives []backup.Archive
	for _, entry := range entries {
		if entry.IsDir() || !isArchive(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		archives = append(archives, backup.Archive{
			Name:      entry.Name(),
			CreatedAt: createdAt(entry.Name(), info.ModTime()),
			SizeBytes: info.Size(),
		})
	}
	return archives, nil
}

func (l *Local) DeleteArchive(ctx context.Context, accountID, name string) error {
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("refusing to delete %q", name)
	}
	target := filepath.Join(l.accountDir(accountID), name)
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", target, err)
	}
	if err := os.Remove(target + checksumSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn().Err(err).Str("path", target+checksumSuffix).Msg("Failed to remove sidecar")
	}
	return nil
}

// Capacity reports the filesystem that holds, or will hold, the root.
func (l *Local) Capacity(ctx context.Context) (backup.CapacityReport, error) {
	report, err := l.prober.CapacityOf(ctx, existingAncestor(l.root))
	if err != nil {
		return backup.CapacityReport{}, err
	}
	report.Path = l.root
	return report, nil
}
