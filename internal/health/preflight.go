package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"whm-backup/internal/backup"
)

// Status is the verdict of one check.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is a named preflight probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) (Status, string)
}

// Result is the outcome of one check.
type Result struct {
	Name     string        `json:"name" yaml:"name"`
	Status   Status        `json:"status" yaml:"status"`
	Detail   string        `json:"detail" yaml:"detail"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Run executes checks in order. A cancelled context fails the remaining
// checks without running them.
func Run(ctx context.Context, checks []Check) []Result {
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{Name: c.Name, Status: StatusFail, Detail: err.Error()})
			continue
		}
		start := time.Now()
		status, detail := c.Run(ctx)
		results = append(results, Result{Name: c.Name, Status: status, Detail: detail, Duration: time.Since(start)})
	}
	return results
}

// Healthy reports whether no check failed.
func Healthy(results []Result) bool {
	for _, r := range results {
		if r.Status == StatusFail {
			return false
		}
	}
	return true
}

// InventoryCheck lists accounts.
func InventoryCheck(inv backup.Inventory) Check {
	return Check{Name: "inventory", Run: func(ctx context.Context) (Status, string) {
		accounts, err := inv.ListAccounts(ctx)
		if err != nil {
			return StatusFail, err.Error()
		}
		if len(accounts) == 0 {
			return StatusWarn, "no accounts found"
		}
		return StatusOK, fmt.Sprintf("%d accounts", len(accounts))
	}}
}

// VolumeCheck probes a local path. Less than minFreeMB free is a warning.
func VolumeCheck(name string, prober backup.VolumeProber, path string, minFreeMB float64) Check {
	return Check{Name: name, Run: func(ctx context.Context) (Status, string) {
		vol, err := prober.CapacityOf(ctx, path)
		if err != nil {
			return StatusFail, err.Error()
		}
		detail := fmt.Sprintf("%s free of %s at %s", backup.HumanMB(vol.FreeMB), backup.HumanMB(vol.TotalMB), vol.Path)
		if vol.FreeMB < minFreeMB {
			return StatusWarn, detail + fmt.Sprintf(", below the %s buffer", backup.HumanMB(minFreeMB))
		}
		return StatusOK, detail
	}}
}

// DestinationCheck asks the destination for its capacity.
func DestinationCheck(dest backup.Destination) Check {
	return Check{Name: "destination", Run: func(ctx context.Context) (Status, string) {
		vol, err := dest.Capacity(ctx)
		if err != nil {
			return StatusFail, fmt.Sprintf("%s: %v", dest, err)
		}
		if vol.Unbounded {
			return StatusOK, fmt.Sprintf("%s reachable, capacity unbounded", dest)
		}
		return StatusOK, fmt.Sprintf("%s: %s free of %s", dest, backup.HumanMB(vol.FreeMB), backup.HumanMB(vol.TotalMB))
	}}
}

// TLSCheck validates the certificate at endpoint.
func TLSCheck(name string, checker *TLSChecker, endpoint string) Check {
	return Check{Name: name, Run: func(ctx context.Context) (Status, string) {
		res := checker.Check(ctx, endpoint)
		if res.Error != nil {
			return StatusFail, res.Error.Error()
		}
		detail := fmt.Sprintf("%s, expires in %d days (%s)", res.Protocol, res.DaysUntilExpiry, res.NotAfter.Format("2006-01-02"))
		if res.Expiring {
			return StatusWarn, detail
		}
		return StatusOK, detail
	}}
}

// HTTPCheck requests target, for example a MinIO liveness URL.
func HTTPCheck(name string, checker *HTTPChecker, target string) Check {
	return Check{Name: name, Run: func(ctx context.Context) (Status, string) {
		res := checker.Check(ctx, target)
		if res.Error != nil {
			return StatusFail, res.Error.Error()
		}
		return StatusOK, fmt.Sprintf("HTTP %d in %s", res.StatusCode, res.ResponseTime.Round(time.Millisecond))
	}}
}

// TCPCheck dials address, for example an SMTP relay.
func TCPCheck(name, address string, timeout time.Duration) Check {
	return Check{Name: name, Run: func(ctx context.Context) (Status, string) {
		d := net.Dialer{Timeout: timeout}
		start := time.Now()
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return StatusFail, err.Error()
		}
		conn.Close()
		return StatusOK, fmt.Sprintf("%s reachable in %s", address, time.Since(start).Round(time.Millisecond))
	}}
}
