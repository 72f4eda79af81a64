package backup

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"whm-backup/internal/health"
	"whm-backup/internal/storage"
)

var backupDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check inventory, volumes, destination and notification endpoints",
	Long: `Run preflight checks without writing anything: list accounts, probe the
staging volume, query the destination, validate the TLS certificate of a
MinIO or S3 endpoint and dial the SMTP relay.`,
	Args: cobra.NoArgs,
	RunE: runBackupDoctor,
}

func initDoctorFlags() {
	backupDoctorCmd.Flags().Int("cert-warn-days", 14, "Warn when an endpoint certificate expires within this many days")
	backupDoctorCmd.Flags().StringP("output", "o", "table", "Output format: table, json or yaml")
}

func runBackupDoctor(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	results := health.Run(ctx, s.preflight(mustGetIntFlag(cmd, "cert-warn-days")))

	out := cmd.OutOrStdout()
	if done, err := writeEncoded(out, mustGetStringFlag(cmd, "output"), results); done {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tDETAIL")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, strings.ToUpper(string(r.Status)), r.Detail)
	}
	w.Flush()

	if !health.Healthy(results) {
		return fmt.Errorf("preflight checks failed")
	}
	return nil
}

// preflight lists the checks that apply to the configuration.
func (s *stack) preflight(certWarnDays int) []health.Check {
	cfg := s.cfg
	const timeout = 10 * time.Second

	checks := []health.Check{
		health.InventoryCheck(s.inventory),
		health.VolumeCheck("staging", storage.NewDiskProber(), cfg.StagingDir, cfg.SafetyBufferMB),
		health.DestinationCheck(s.destination),
	}

	tlsChecker := &health.TLSChecker{Timeout: timeout, WarnDays: certWarnDays}
	switch cfg.Destination.Type {
	case "minio":
		scheme := "http"
		if cfg.Destination.Minio.UseSSL {
			scheme = "https"
			checks = append(checks, health.TLSCheck("minio-tls", tlsChecker, cfg.Destination.Minio.Endpoint))
		}
		live := fmt.Sprintf("%s://%s/minio/health/live", scheme, cfg.Destination.Minio.Endpoint)
		checks = append(checks, health.HTTPCheck("minio-live", &health.HTTPChecker{Timeout: timeout}, live))
	case "s3":
		endpoint := cfg.Destination.S3.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Destination.S3.Region)
		}
		if !strings.HasPrefix(endpoint, "http://") {
			checks = append(checks, health.TLSCheck("s3-tls", tlsChecker, endpoint))
		}
	}

	if email := cfg.Notify.Email; email.Enabled() {
		address := net.JoinHostPort(email.Host, strconv.Itoa(email.Port))
		checks = append(checks, health.TCPCheck("smtp", address, timeout))
	}
	return checks
}
