// Package health runs preflight checks against the hosts and volumes a
// backup run depends on.
package health

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"
)

// HTTPChecker performs HTTP health checks with detailed timing
type HTTPChecker struct {
	Timeout time.Duration
	// RootCAs overrides the system pool, for private endpoints.
	RootCAs *x509.CertPool
}

// HTTPHealthResult contains detailed HTTP health information
type HTTPHealthResult struct {
	StatusCode    int
	ResponseTime  time.Duration
	DNSLookupTime time.Duration
	ConnectTime   time.Duration
	TLSHandshake  time.Duration
	FirstByteTime time.Duration
	Error         error
}

// Check requests target and records how long each phase took.
func (c *HTTPChecker) Check(ctx context.Context, target string) *HTTPHealthResult {
	result := &HTTPHealthResult{}

	var dnsStart, connectStart, tlsStart time.Time

	client := &http.Client{
		Timeout: c.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: c.RootCAs},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result
	}

	start := time.Now()
	trace := &httptrace.ClientTrace{
		DNSStart:             func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:              func(httptrace.DNSDoneInfo) { result.DNSLookupTime = time.Since(dnsStart) },
		ConnectStart:         func(_, _ string) { connectStart = time.Now() },
		ConnectDone:          func(_, _ string, _ error) { result.ConnectTime = time.Since(connectStart) },
		TLSHandshakeStart:    func() { tlsStart = time.Now() },
		TLSHandshakeDone:     func(tls.ConnectionState, error) { result.TLSHandshake = time.Since(tlsStart) },
		GotFirstResponseByte: func() { result.FirstByteTime = time.Since(start) },
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	resp, err := client.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("request failed: %w", err)
		result.ResponseTime = time.Since(start)
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	result.ResponseTime = time.Since(start)
	result.StatusCode = resp.StatusCode
	if resp.StatusCode >= 400 {
		result.Error = fmt.Errorf("unhealthy status %d", resp.StatusCode)
	}
	return result
}

// TLSChecker validates the certificate served by an endpoint.
type TLSChecker struct {
	Timeout time.Duration
	RootCAs *x509.CertPool
	// WarnDays flags certificates expiring within this many days.
	WarnDays int
	now      func() time.Time
}

// TLSHealthResult contains certificate information
type TLSHealthResult struct {
	Valid           bool
	Expiring        bool
	Subject         string
	Issuer          string
	NotAfter        time.Time
	DaysUntilExpiry int
	Protocol        string
	Error           error
}

// Check dials endpoint, a URL or host[:port] with 443 as the default port.
func (c *TLSChecker) Check(ctx context.Context, endpoint string) *TLSHealthResult {
	result := &TLSHealthResult{}

	address, host, err := hostPort(endpoint, "443")
	if err != nil {
		result.Error = err
		return result
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.Timeout},
		Config:    &tls.Config{ServerName: host, RootCAs: c.RootCAs},
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		result.Error = fmt.Errorf("TLS connection failed: %w", err)
		return result
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		result.Error = fmt.Errorf("no certificates found")
		return result
	}

	now := time.Now()
	if c.now != nil {
		now = c.now()
	}
	cert := state.PeerCertificates[0]
	result.Valid = true
	result.Subject = cert.Subject.String()
	result.Issuer = cert.Issuer.String()
	result.NotAfter = cert.NotAfter
	result.DaysUntilExpiry = int(cert.NotAfter.Sub(now).Hours() / 24)
	result.Protocol = tls.VersionName(state.Version)

	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		result.Valid = false
		result.Error = fmt.Errorf("certificate not valid for current time")
		return result
	}
	if c.WarnDays > 0 && result.DaysUntilExpiry < c.WarnDays {
		result.Expiring = true
	}
	return result
}

// hostPort normalizes endpoint into a dial address and the bare host.
func hostPort(endpoint, defaultPort string) (string, string, error) {
	hostport := endpoint
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
		}
		hostport = u.Host
	} else if idx := strings.Index(hostport, "/"); idx != -1 {
		hostport = hostport[:idx]
	}
	if hostport == "" {
		return "", "", fmt.Errorf("invalid endpoint %q", endpoint)
	}

	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = hostport, defaultPort
	}
	return net.JoinHostPort(host, port), host, nil
}
