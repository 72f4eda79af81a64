package whm

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"whm-backup/internal/backup"
	"whm-backup/internal/execute"
)

// ArchiveName is the staging and destination name of an account archive.
func ArchiveName(accountID string, t time.Time) string {
	return fmt.Sprintf("cpmove-%s-%s.tar.gz", accountID, t.UTC().Format("20060102-150405"))
}

// PkgacctArchiver produces cpmove archives with cPanel's pkgacct script.
// On a remote host the archive is written to RemoteDir and then streamed
// into the local staging directory.
type PkgacctArchiver struct {
	runner    execute.Runner
	pkgacct   string
	remoteDir string
	now       func() time.Time
	logger    zerolog.Logger
}

// NewPkgacctArchiver returns an archiver that runs pkgacctPath via runner.
func NewPkgacctArchiver(runner execute.Runner, pkgacctPath, remoteDir string, logger zerolog.Logger) *PkgacctArchiver {
	return &PkgacctArchiver{
		runner:    runner,
		pkgacct:   pkgacctPath,
		remoteDir: remoteDir,
		now:       time.Now,
		logger:    logger.With().Str("component", "pkgacct").Logger(),
	}
}

func (p *PkgacctArchiver) CreateArchive(ctx context.Context, accountID, stagingDir string) (backup.ArchiveFile, error) {
	workDir := stagingDir
	if p.runner.Remote() {
		workDir = p.remoteDir
	}

	command := fmt.Sprintf("%s %s %s", execute.Quote(p.pkgacct), execute.Quote(accountID), execute.Quote(workDir))
	p.logger.Debug().Str("account", accountID).Str("host", p.runner.Host()).Str("command", command).Msg("Running pkgacct")

	stdout, _, err := p.runner.Run(ctx, command)
	if err != nil {
		return backup.ArchiveFile{}, fmt.Errorf("pkgacct %s: %w", accountID, err)
	}

	produced := producedArchive(stdout)
	if produced == "" {
		produced = filepath.Join(workDir, fmt.Sprintf("cpmove-%s.tar.gz", accountID))
	}

	created := p.now()
	name := ArchiveName(accountID, created)
	target := filepath.Join(stagingDir, name)

	if p.runner.Remote() {
		if err := p.fetch(ctx, produced, target); err != nil {
			return backup.ArchiveFile{}, err
		}
	} else if err := os.Rename(produced, target); err != nil {
		return backup.ArchiveFile{}, fmt.Errorf("failed to move %s into staging: %w", produced, err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return backup.ArchiveFile{}, fmt.Errorf("failed to stat archive: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(target)
		return backup.ArchiveFile{}, fmt.Errorf("pkgacct produced an empty archive for %s", accountID)
	}

	return backup.ArchiveFile{
		Path:      target,
		Name:      name,
		SizeBytes: info.Size(),
		CreatedAt: created,
	}, nil
}

// fetch streams a remote archive into target and removes the remote copy.
func (p *PkgacctArchiver) fetch(ctx context.Context, remotePath, target string) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}

	var stderr strings.Builder
	streamErr := p.runner.Stream(ctx, "cat "+execute.Quote(remotePath), f, &stderr)
	closeErr := f.Close()
	if streamErr != nil || closeErr != nil {
		os.Remove(target)
		if streamErr != nil {
			return fmt.Errorf("failed to fetch %s from %s: %w %s", remotePath, p.runner.Host(), streamErr, strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("failed to write staging file: %w", closeErr)
	}

	if _, _, err := p.runner.Run(ctx, "rm -f "+execute.Quote(remotePath)); err != nil {
		p.logger.Warn().Err(err).Str("path", remotePath).Msg("Failed to remove remote archive")
	}
	return nil
}

// Cleanup removes the staged archive.
func (p *PkgacctArchiver) Cleanup(ctx context.Context, file backup.ArchiveFile) error {
	if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// producedArchive finds the archive path pkgacct reports on its
// "pkgacctfile is: <path>" line.
func producedArchive(output string) string {
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, "pkgacctfile is:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
