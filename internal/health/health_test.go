package health

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whm-backup/internal/backup"
)

func tlsServer(t *testing.T, status int) (*httptest.Server, *x509.CertPool) {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	return srv, pool
}

func TestHTTPChecker(t *testing.T) {
	srv, pool := tlsServer(t, http.StatusOK)
	checker := &HTTPChecker{Timeout: 5 * time.Second, RootCAs: pool}

	res := checker.Check(context.Background(), srv.URL+"/minio/health/live")
	require.NoError(t, res.Error)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotZero(t, res.ResponseTime)

	bad, badPool := tlsServer(t, http.StatusServiceUnavailable)
	res = (&HTTPChecker{Timeout: 5 * time.Second, RootCAs: badPool}).Check(context.Background(), bad.URL)
	assert.Error(t, res.Error)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestTLSChecker(t *testing.T) {
	srv, pool := tlsServer(t, http.StatusOK)

	checker := &TLSChecker{Timeout: 5 * time.Second, RootCAs: pool}
	res := checker.Check(context.Background(), srv.URL)
	require.NoError(t, res.Error)
	assert.True(t, res.Valid)
	assert.False(t, res.Expiring)
	assert.NotEmpty(t, res.Protocol)

	checker.WarnDays = 1 << 20
	assert.True(t, checker.Check(context.Background(), srv.URL).Expiring)

	res = (&TLSChecker{Timeout: 5 * time.Second}).Check(context.Background(), srv.URL)
	assert.Error(t, res.Error, "self-signed certificate must not verify against the system pool")
}

func TestHostPort(t *testing.T) {
	tests := []struct {
		in, address, host string
	}{
		{"https://minio.example.com:9000/bucket", "minio.example.com:9000", "minio.example.com"},
		{"s3.eu-west-1.amazonaws.com", "s3.eu-west-1.amazonaws.com:443", "s3.eu-west-1.amazonaws.com"},
		{"minio.local:9000", "minio.local:9000", "minio.local"},
		{"minio.local/path", "minio.local:443", "minio.local"},
	}
	for _, tt := range tests {
		address, host, err := hostPort(tt.in, "443")
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.address, address, tt.in)
		assert.Equal(t, tt.host, host, tt.in)
	}
	_, _, err := hostPort("https://", "443")
	assert.Error(t, err)
}

type stubInventory struct {
	accounts []backup.Account
	err      error
}

func (s stubInventory) ListAccounts(context.Context) ([]backup.Account, error) {
	return s.accounts, s.err
}

type stubProber struct {
	vol backup.CapacityReport
	err error
}

func (s stubProber) CapacityOf(ctx context.Context, path string) (backup.CapacityReport, error) {
	s.vol.Path = path
	return s.vol, s.err
}

func TestRunChecks(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	results := Run(context.Background(), []Check{
		InventoryCheck(stubInventory{accounts: []backup.Account{{ID: "alice"}}}),
		InventoryCheck(stubInventory{}),
		VolumeCheck("staging", stubProber{vol: backup.CapacityReport{FreeMB: 500, TotalMB: 1000}}, "/home", 1024),
		VolumeCheck("staging", stubProber{err: backup.ErrVolumeUnavailable}, "/missing", 0),
		TCPCheck("smtp", ln.Addr().String(), time.Second),
	})

	require.Len(t, results, 5)
	assert.Equal(t, StatusOK, results[0].Status)
	assert.Equal(t, "1 accounts", results[0].Detail)
	assert.Equal(t, StatusWarn, results[1].Status)
	assert.Equal(t, StatusWarn, results[2].Status)
	assert.Contains(t, results[2].Detail, "/home")
	assert.Equal(t, StatusFail, results[3].Status)
	assert.Equal(t, StatusOK, results[4].Status)
	assert.False(t, Healthy(results))
	assert.True(t, Healthy(results[:3]))
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	results := Run(ctx, []Check{{Name: "never", Run: func(context.Context) (Status, string) {
		called = true
		return StatusOK, ""
	}}})
	assert.False(t, called)
	assert.Equal(t, StatusFail, results[0].Status)
	assert.True(t, errors.Is(ctx.Err(), context.Canceled))
}
