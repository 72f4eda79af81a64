// Package archive builds account archives without cPanel tooling.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"whm-backup/internal/backup"
)

// Extension is the suffix of archives written by DirArchiver.
const Extension = ".tar.zst"

// Name is the archive name for accountID created at t.
func Name(accountID string, t time.Time) string {
	return fmt.Sprintf("cpmove-%s-%s%s", accountID, t.UTC().Format("20060102-150405"), Extension)
}

// DirArchiver packs <root>/<account> into a zstd compressed tarball.
type DirArchiver struct {
	root   string
	now    func() time.Time
	logger zerolog.Logger
}

// NewDirArchiver returns an archiver for account home directories under root.
func NewDirArchiver(root string, logger zerolog.Logger) *DirArchiver {
	return &DirArchiver{
		root:   root,
		now:    time.Now,
		logger: logger.With().Str("component", "archiver").Logger(),
	}
}

func (d *DirArchiver) CreateArchive(ctx context.Context, accountID, stagingDir string) (backup.ArchiveFile, error) {
	source := filepath.Join(d.root, accountID)
	info, err := os.Stat(source)
	if err != nil {
		return backup.ArchiveFile{}, fmt.Errorf("account directory: %w", err)
	}
	if !info.IsDir() {
		return backup.ArchiveFile{}, fmt.Errorf("account path %s is not a directory", source)
	}

	created := d.now()
	name := Name(accountID, created)
	target := filepath.Join(stagingDir, name)

	if err := d.write(ctx, source, accountID, target); err != nil {
		os.Remove(target)
		return backup.ArchiveFile{}, err
	}

	stat, err := os.Stat(target)
	if err != nil {
		return backup.ArchiveFile{}, fmt.Errorf("failed to stat archive: %w", err)
	}

	d.logger.Debug().Str("account", accountID).Str("path", target).Int64("bytes", stat.Size()).Msg("Archive written")
	return backup.ArchiveFile{
		Path:      target,
		Name:      name,
		SizeBytes: stat.Size(),
		CreatedAt: created,
	}, nil
}

func (d *DirArchiver) write(ctx context.Context, source, prefix, target string) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	walkErr := filepath.WalkDir(source, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		return addToTar(tw, path, filepath.ToSlash(filepath.Join(prefix, rel)), entry)
	})
	if walkErr != nil {
		_ = tw.Close()
		_ = zw.Close()
		return fmt.Errorf("archiving %s: %w", source, walkErr)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar writer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing zstd writer: %w", err)
	}
	return out.Close()
}

// addToTar writes one directory entry. Symlinks are stored as links and
// other special files are skipped.
func addToTar(tw *tar.Writer, srcPath, tarPath string, entry fs.DirEntry) error {
	info, err := entry.Info()
	if err != nil {
		return err
	}

	var link string
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		if link, err = os.Readlink(srcPath); err != nil {
			return err
		}
	case info.IsDir(), info.Mode().IsRegular():
	default:
		return nil
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = tarPath
	if info.IsDir() {
		header.Name += "/"
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	_, err = io.Copy(tw, f)
	return err
}

// Cleanup removes the staged archive.
func (d *DirArchiver) Cleanup(ctx context.Context, file backup.ArchiveFile) error {
	if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
