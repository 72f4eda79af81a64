package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/minio/madmin-go/v3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"whm-backup/internal/backup"
)

// Minio stores archives as objects in a MinIO bucket.
type Minio struct {
	client *minio.Client
	admin  *madmin.AdminClient
	bucket string
	prefix string
	now    func() time.Time
	logger zerolog.Logger
}

// NewMinio connects to cfg.Endpoint and checks the bucket, creating it when
// cfg.AutoCreateBucket is set.
func NewMinio(ctx context.Context, cfg backup.MinioConfig, prefix string, logger zerolog.Logger) (*Minio, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	}
	if cfg.HTTPTimeout > 0 {
		transport, err := minio.DefaultTransport(cfg.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("failed to build minio transport: %w", err)
		}
		transport.ResponseHeaderTimeout = cfg.HTTPTimeout
		opts.Transport = transport
	}

	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Minio client: %w", err)
	}

	m := &Minio{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		now:    time.Now,
		logger: logger.With().Str("component", "destination").Str("type", "minio").Logger(),
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if !cfg.AutoCreateBucket {
			return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
		}
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		m.logger.Info().Str("bucket", cfg.Bucket).Msg("Bucket created")
	}

	if cfg.AdminCapacity {
		admin, err := madmin.New(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Minio admin client: %w", err)
		}
		m.admin = admin
	}

	return m, nil
}

func (m *Minio) String() string {
	return fmt.Sprintf("minio:%s/%s", m.bucket, m.prefix)
}

func (m *Minio) Transfer(ctx context.Context, accountID string, file backup.ArchiveFile) (backup.RemoteRef, error) {
	sum, size, err := SHA256File(file.Path)
	if err != nil {
		return backup.RemoteRef{}, fmt.Errorf("failed to hash archive: %w", err)
	}

	key := objectKey(m.prefix, accountID, file.Name)
	info, err := m.client.FPutObject(ctx, m.bucket, key, file.Path, minio.PutObjectOptions{
		ContentType:  contentType(file.Name),
		UserMetadata: map[string]string{metadataChecksum: sum},
	})
	if err != nil {
		return backup.RemoteRef{}, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	m.logger.Debug().Str("account", accountID).Str("key", key).Int64("bytes", info.Size).Msg("Archive uploaded")
	return backup.RemoteRef{
		AccountID: accountID,
		Name:      file.Name,
		Location:  key,
		SizeBytes: size,
		Checksum:  sum,
		CreatedAt: file.CreatedAt,
	}, nil
}

// Verify compares the stored object's size and digest metadata with ref.
func (m *Minio) Verify(ctx context.Context, ref backup.RemoteRef) error {
	info, err := m.client.StatObject(ctx, m.bucket, ref.Location, minio.StatObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", ref.Location, err)
	}
	if info.Size != ref.SizeBytes {
		return &ChecksumMismatchError{Location: ref.Location, Field: "size", Want: strconv.FormatInt(ref.SizeBytes, 10), Got: strconv.FormatInt(info.Size, 10)}
	}
	if got := metadataValue(info.UserMetadata, metadataChecksum); ref.Checksum != "" && got != ref.Checksum {
		return &ChecksumMismatchError{Location: ref.Location, Field: "sha256", Want: ref.Checksum, Got: got}
	}
	return nil
}

func (m *Minio) ListArchives(ctx context.Context, accountID string) ([]backup.Archive, error) {
	opts := minio.ListObjectsOptions{
		Prefix:    accountPrefix(m.prefix, accountID),
		Recursive: true,
	}

	var archives []backup.Archive
	for obj := range m.client.ListObjects(ctx, m.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("error listing object: %w", obj.Err)
		}
		name := path.Base(obj.Key)
		if !isArchive(name) {
			continue
		}
		archives = append(archives, backup.Archive{
			Name:      name,
			CreatedAt: createdAt(name, obj.LastModified),
			SizeBytes: obj.Size,
		})
	}
	return archives, nil
}

func (m *Minio) DeleteArchive(ctx context.Context, accountID, name string) error {
	key := objectKey(m.prefix, accountID, name)
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object '%s': %w", key, err)
	}
	return nil
}

// Capacity sums the cluster disks through the admin API. Without admin
// access the bucket is treated as unbounded.
func (m *Minio) Capacity(ctx context.Context) (backup.CapacityReport, error) {
	report := backup.CapacityReport{Path: m.String(), CapturedAt: m.now()}
	if m.admin == nil {
		report.Unbounded = true
		return report, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	info, err := m.admin.StorageInfo(ctx)
	if err != nil {
		return backup.CapacityReport{}, fmt.Errorf("%w: failed to query Minio storage info: %v", backup.ErrVolumeUnavailable, err)
	}

	var total, used, free uint64
	for _, disk := range info.Disks {
		total += disk.TotalSpace
		used += disk.UsedSpace
		free += disk.AvailableSpace
	}
	if total == 0 {
		return backup.CapacityReport{}, fmt.Errorf("%w: Minio storage reported zero total capacity", backup.ErrVolumeUnavailable)
	}

	report.TotalMB = backup.BytesToMB(int64(total))
	report.UsedMB = backup.BytesToMB(int64(used))
	report.FreeMB = backup.BytesToMB(int64(free))
	return report, nil
}
