package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscredentials "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"whm-backup/internal/backup"
)

// S3 stores archives in an AWS S3 (or compatible) bucket.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	quotaMB  float64
	now      func() time.Time
	logger   zerolog.Logger
}

// NewS3 loads AWS configuration for cfg and checks the bucket is reachable.
func NewS3(ctx context.Context, cfg backup.S3Config, prefix string, logger zerolog.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			awscredentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("bucket %s does not exist or is not accessible: %w", cfg.Bucket, err)
	}

	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   prefix,
		quotaMB:  cfg.QuotaMB,
		now:      time.Now,
		logger:   logger.With().Str("component", "destination").Str("type", "s3").Logger(),
	}, nil
}

func (d *S3) String() string {
	return fmt.Sprintf("s3://%s/%s", d.bucket, d.prefix)
}

func (d *S3) Transfer(ctx context.Context, accountID string, file backup.ArchiveFile) (backup.RemoteRef, error) {
	sum, size, err := SHA256File(file.Path)
	if err != nil {
		return backup.RemoteRef{}, fmt.Errorf("failed to hash archive: %w", err)
	}

	f, err := os.Open(file.Path)
	if err != nil {
		return backup.RemoteRef{}, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	key := objectKey(d.prefix, accountID, file.Name)
	if _, err := d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(file.Name)),
		Metadata:    map[string]string{strings.ToLower(metadataChecksum): sum},
	}); err != nil {
		return backup.RemoteRef{}, fmt.Errorf("failed to upload to AWS S3: %w", err)
	}

	d.logger.Debug().Str("account", accountID).Str("key", key).Int64("bytes", size).Msg("Archive uploaded")
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
func (d *S3) Verify(ctx context.Context, ref backup.RemoteRef) error {
	head, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(ref.Location),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return fmt.Errorf("object %s is missing after upload", ref.Location)
		}
		return fmt.Errorf("failed to stat %s: %w", ref.Location, err)
	}

	size := aws.ToInt64(head.ContentLength)
	if size != ref.SizeBytes {
		return &ChecksumMismatchError{Location: ref.Location, Field: "size", Want: strconv.FormatInt(ref.SizeBytes, 10), Got: strconv.FormatInt(size, 10)}
	}
	if got := metadataValue(head.Metadata, metadataChecksum); ref.Checksum != "" && got != ref.Checksum {
		return &ChecksumMismatchError{Location: ref.Location, Field: "sha256", Want: ref.Checksum, Got: got}
	}
	return nil
}

func (d *S3) ListArchives(ctx context.Context, accountID string) ([]backup.Archive, error) {
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(accountPrefix(d.prefix, accountID)),
	})

	var archives []backup.Archive
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list AWS objects: %w", err)
		}
		for _, obj := range page.Contents {
			name := path.Base(aws.ToString(obj.Key))
			if !isArchive(name) {
				continue
			}
			archives = append(archives, backup.Archive{
				Name:      name,
				CreatedAt: createdAt(name, aws.ToTime(obj.LastModified)),
				SizeBytes: aws.ToInt64(obj.Size),
			})
		}
	}
	return archives, nil
}

func (d *S3) DeleteArchive(ctx context.Context, accountID, name string) error {
	key := objectKey(d.prefix, accountID, name)
	if _, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete object '%s': %w", key, err)
	}
	return nil
}

// Capacity is unbounded unless a quota is configured, in which case the
// objects under the prefix count against it.
func (d *S3) Capacity(ctx context.Context) (backup.CapacityReport, error) {
	report := backup.CapacityReport{Path: d.String(), CapturedAt: d.now()}
	if d.quotaMB <= 0 {
		report.Unbounded = true
		return report, nil
	}

	input := &s3.ListObjectsV2Input{Bucket: aws.String(d.bucket)}
	if d.prefix != "" {
		input.Prefix = aws.String(strings.TrimSuffix(d.prefix, "/") + "/")
	}
	paginator := s3.NewListObjectsV2Paginator(d.client, input)

	var used int64
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return backup.CapacityReport{}, fmt.Errorf("%w: failed to measure %s: %v", backup.ErrVolumeUnavailable, d, err)
		}
		for _, obj := range page.Contents {
			used += aws.ToInt64(obj.Size)
		}
	}

	report.TotalMB = d.quotaMB
	report.UsedMB = backup.BytesToMB(used)
	report.FreeMB = max(0, d.quotaMB-report.UsedMB)
	return report, nil
}
