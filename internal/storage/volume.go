// Package storage measures volumes and stores verified archives on local
// disk, MinIO or S3.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"whm-backup/internal/backup"
)

// DiskProber reports filesystem capacity with gopsutil.
type DiskProber struct {
	now func() time.Time
}

// NewDiskProber returns a prober for local filesystems.
func NewDiskProber() *DiskProber {
	return &DiskProber{now: time.Now}
}

// CapacityOf reports the filesystem holding path. A missing path is
// ErrVolumeUnavailable.
func (p *DiskProber) CapacityOf(ctx context.Context, path string) (backup.CapacityReport, error) {
	info, err := os.Stat(path)
	if err != nil {
		return backup.CapacityReport{}, fmt.Errorf("%w: %s: %v", backup.ErrVolumeUnavailable, path, err)
	}
	if !info.IsDir() {
		return backup.CapacityReport{}, fmt.Errorf("%w: %s is not a directory", backup.ErrVolumeUnavailable, path)
	}

	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return backup.CapacityReport{}, fmt.Errorf("%w: %s: %v", backup.ErrVolumeUnavailable, path, err)
	}

	return backup.CapacityReport{
		Path:       path,
		TotalMB:    backup.BytesToMB(int64(usage.Total)),
		UsedMB:     backup.BytesToMB(int64(usage.Used)),
		FreeMB:     backup.BytesToMB(int64(usage.Free)),
		CapturedAt: p.now(),
	}, nil
}

// existingAncestor walks up from path to the nearest directory that exists.
func existingAncestor(path string) string {
	path = filepath.Clean(path)
	for {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
