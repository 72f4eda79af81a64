//go:build integration

package storage

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"whm-backup/internal/backup"
)

const (
	minioUser     = "whmbackup"
	minioPassword = "whmbackup-secret"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	if os.Getenv("WHM_BACKUP_TESTCONTAINERS") != "1" {
		t.Skip("set WHM_BACKUP_TESTCONTAINERS=1 to run container tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

func startMinio(t *testing.T) string {
	t.Helper()
	skipIfNoDocker(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)
	return endpoint
}

func exerciseDestination(t *testing.T, dest backup.Destination) {
	t.Helper()
	ctx := context.Background()
	staging := t.TempDir()

	names := []string{
		"cpmove-alice-20250101-000000.tar.gz",
		"cpmove-alice-20250102-000000.tar.gz",
	}
	for _, name := range names {
		ref, err := dest.Transfer(ctx, "alice", writeArchive(t, staging, name, "payload "+name))
		require.NoError(t, err)
		require.NoError(t, dest.Verify(ctx, ref))
	}

	archives, err := dest.ListArchives(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, archives, 2)

	require.NoError(t, dest.DeleteArchive(ctx, "alice", names[0]))
	archives, err = dest.ListArchives(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, names[1], archives[0].Name)

	other, err := dest.ListArchives(ctx, "alice2")
	require.NoError(t, err)
	assert.Empty(t, other, "account prefixes must not overlap")
}

func TestMinioDestination(t *testing.T) {
	endpoint := startMinio(t)

	dest, err := NewMinio(context.Background(), backup.MinioConfig{
		Endpoint:         endpoint,
		AccessKey:        minioUser,
		SecretKey:        minioPassword,
		Bucket:           "whm-backups",
		AutoCreateBucket: true,
		AdminCapacity:    true,
	}, "nightly", zerolog.Nop())
	require.NoError(t, err)

	exerciseDestination(t, dest)

	report, err := dest.Capacity(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Unbounded)
	assert.Positive(t, report.TotalMB)
}

func TestS3DestinationAgainstMinio(t *testing.T) {
	endpoint := startMinio(t)

	_, err := NewMinio(context.Background(), backup.MinioConfig{
		Endpoint: endpoint, AccessKey: minioUser, SecretKey: minioPassword,
		Bucket: "s3-compat", AutoCreateBucket: true,
	}, "", zerolog.Nop())
	require.NoError(t, err)

	dest, err := NewS3(context.Background(), backup.S3Config{
		Endpoint:  "http://" + endpoint,
		Region:    "us-east-1",
		Bucket:    "s3-compat",
		AccessKey: minioUser,
		SecretKey: minioPassword,
		QuotaMB:   100,
	}, "whm", zerolog.Nop())
	require.NoError(t, err)

	exerciseDestination(t, dest)

	report, err := dest.Capacity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, report.TotalMB)
	assert.Less(t, report.FreeMB, 100.0)
}
