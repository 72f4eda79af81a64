package backup

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"whm-backup/internal/archive"
	"whm-backup/internal/auth"
	"whm-backup/internal/backup"
	"whm-backup/internal/execute"
	"whm-backup/internal/history"
	"whm-backup/internal/logging"
	"whm-backup/internal/metrics"
	"whm-backup/internal/notify"
	"whm-backup/internal/storage"
	"whm-backup/internal/whm"
)

// stack is everything a subcommand needs, built once from the config.
type stack struct {
	cfg          backup.Config
	logger       zerolog.Logger
	runner       execute.Runner
	inventory    backup.Inventory
	destination  backup.Destination
	orchestrator *backup.Orchestrator
	history      *history.Store
	recorder     *metrics.Recorder

	closers []io.Closer
}

// newLogger builds the process logger from the config.
func newLogger(cfg backup.Config) zerolog.Logger {
	return logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
}

// buildStack loads the configuration and wires every collaborator.
func buildStack(ctx context.Context) (*stack, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return newStack(ctx, cfg, newLogger(cfg))
}

func newStack(ctx context.Context, cfg backup.Config, logger zerolog.Logger) (*stack, error) {
	s := &stack{cfg: cfg, logger: logger, recorder: metrics.New()}
	if err := s.wire(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *stack) wire(ctx context.Context) error {
	var err error
	if s.runner, err = s.newRunner(ctx); err != nil {
		return err
	}

	s.inventory = s.newInventory()

	archiver, err := s.newArchiver()
	if err != nil {
		return err
	}

	prober := storage.NewDiskProber()
	if s.destination, err = storage.New(ctx, s.cfg.Destination, prober, s.logger); err != nil {
		return err
	}

	if s.cfg.History.Path != "" {
		if s.history, err = history.Open(s.cfg.History.Path); err != nil {
			return err
		}
		s.closers = append(s.closers, s.history)
	}

	s.orchestrator, err = backup.NewOrchestrator(s.cfg, backup.Deps{
		Inventory:   s.inventory,
		Archiver:    archiver,
		Destination: s.destination,
		Prober:      prober,
		Logger:      s.logger,
		Host:        s.runner.Host(),
	})
	return err
}

func (s *stack) newRunner(ctx context.Context) (execute.Runner, error) {
	if !s.cfg.Remote.Enabled() {
		return execute.NewLocal(), nil
	}

	client, err := auth.NewSSHClient(ctx, auth.SSHConfig{
		Hostname: s.cfg.Remote.Host,
		Username: s.cfg.Remote.User,
		Port:     s.cfg.Remote.Port,
		KeyPath:  s.cfg.Remote.KeyPath,
		UseAgent: s.cfg.Remote.UseAgent,
		Timeout:  s.cfg.Remote.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", s.cfg.Remote.Host, err)
	}
	remote := execute.NewRemote(client)
	s.closers = append(s.closers, remote)
	s.logger.Info().Str("host", client.Hostname()).Str("user", client.Username()).Msg("Connected to WHM host")
	return remote, nil
}

func (s *stack) newInventory() backup.Inventory {
	if s.cfg.Inventory.Source == "file" {
		return whm.NewFileInventory(s.cfg.Inventory.File)
	}
	return whm.NewCommandInventory(s.runner, s.cfg.Inventory.Command, s.logger)
}

func (s *stack) newArchiver() (backup.Archiver, error) {
	switch s.cfg.Archiver.Type {
	case "tar":
		if s.runner.Remote() {
			return nil, fmt.Errorf("%w: the tar archiver only runs on the local host", backup.ErrInvalidConfig)
		}
		return archive.NewDirArchiver(s.cfg.Archiver.SourceRoot, s.logger), nil
	default:
		return whm.NewPkgacctArchiver(s.runner, s.cfg.Archiver.PkgacctPath, s.cfg.Archiver.RemoteStagingDir, s.logger), nil
	}
}

// sinks returns the report sinks for the configuration. notifications
// controls email and Sheets delivery; serving records into the in-process
// metrics registry.
func (s *stack) sinks(ctx context.Context, notifications, serving bool) []backup.ReportSink {
	cfg := s.cfg
	sinks := []backup.ReportSink{notify.NewLogSink(s.logger)}

	if s.history != nil {
		sinks = append(sinks, s.history)
	}
	if cfg.Notify.ReportDir != "" {
		sinks = append(sinks, notify.NewFileSink(cfg.Notify.ReportDir, cfg.Notify.ReportFormat))
	}
	switch {
	case cfg.Metrics.Textfile != "":
		sinks = append(sinks, metrics.NewTextfileSink(s.recorder, cfg.Metrics.Textfile))
	case serving:
		sinks = append(sinks, s.recorder)
	}

	if !notifications {
		return sinks
	}
	if cfg.Notify.Email.Enabled() {
		email, err := notify.NewEmailSink(cfg.Notify.Email, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Email notifications disabled")
		} else {
			sinks = append(sinks, email)
		}
	}
	if cfg.Notify.Sheets.Enabled() {
		sheet, err := notify.NewSheetsSink(ctx, cfg.Notify.Sheets)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Google Sheets reporting disabled")
		} else {
			sinks = append(sinks, sheet)
		}
	}
	return sinks
}

// deliver sends report to sinks without letting a cancelled run context
// stop delivery.
func (s *stack) deliver(ctx context.Context, report *backup.RunReport, sinks []backup.ReportSink) {
	notify.Dispatch(context.WithoutCancel(ctx), report, sinks, s.logger)
}

// Close releases the SSH connection and the history database.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Close failed")
		}
	}
	s.closers = nil
}
