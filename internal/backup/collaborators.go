package backup

import (
	"context"
)

// Inventory discovers the accounts on a hosting server.
type Inventory interface {
	ListAccounts(ctx context.Context) ([]Account, error)
}

// Archiver produces one account's archive in the staging directory.
type Archiver interface {
	CreateArchive(ctx context.Context, accountID, stagingDir string) (ArchiveFile, error)
	Cleanup(ctx context.Context, file ArchiveFile) error
}

// Destination stores, verifies, lists and deletes archives.
type Destination interface {
	Transfer(ctx context.Context, accountID string, file ArchiveFile) (RemoteRef, error)
	Verify(ctx context.Context, ref RemoteRef) error
	ListArchives(ctx context.Context, accountID string) ([]Archive, error)
	DeleteArchive(ctx context.Context, accountID, name string) error
	Capacity(ctx context.Context) (CapacityReport, error)
	String() string
}

// VolumeProber reports free space on a local path.
type VolumeProber interface {
	CapacityOf(ctx context.Context, path string) (CapacityReport, error)
}

// ReportSink delivers a finished run report.
type ReportSink interface {
	Deliver(ctx context.Context, report *RunReport) error
	Name() string
}
