package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"whm-backup/internal/backup"
)

// rowAppender appends rows to a spreadsheet range.
type rowAppender interface {
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error
}

type sheetsAPI struct {
	srv *sheets.Service
}

func (a sheetsAPI) Append(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error {
	_, err := a.srv.Spreadsheets.Values.
		Append(spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// NewSheetsService creates a Google Sheets client from a service account
// JSON credentials file.
func NewSheetsService(ctx context.Context, credentialsPath string) (*sheets.Service, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, err
	}

	config, err := google.JWTConfigFromJSON(data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, err
	}

	return sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
}

// SheetsSink appends one row per account to a Google Sheet.
type SheetsSink struct {
	spreadsheetID string
	rng           string
	api           rowAppender
}

// NewSheetsSink connects with the service account in cfg.CredentialsFile.
func NewSheetsSink(ctx context.Context, cfg backup.SheetsConfig) (*SheetsSink, error) {
	if cfg.SpreadsheetID == "" || cfg.CredentialsFile == "" {
		return nil, errors.New("spreadsheet id and credentials file are required")
	}
	srv, err := NewSheetsService(ctx, cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	rng := cfg.Range
	if rng == "" {
		rng = "Backups!A1"
	}
	return &SheetsSink{spreadsheetID: cfg.SpreadsheetID, rng: rng, api: sheetsAPI{srv: srv}}, nil
}

func (s *SheetsSink) Name() string { return "sheets" }

func (s *SheetsSink) Deliver(ctx context.Context, report *backup.RunReport) error {
	rows := Rows(report)
	if len(rows) == 0 {
		return nil
	}
	if err := s.api.Append(ctx, s.spreadsheetID, s.rng, rows); err != nil {
		return fmt.Errorf("failed to append %d rows: %w", len(rows), err)
	}
	return nil
}

// Rows flattens report into spreadsheet rows, one per account. A run that
// failed before any account was processed yields a single row.
func Rows(report *backup.RunReport) [][]interface{} {
	started := report.StartedAt.UTC().Format(time.RFC3339)
	if len(report.Results) == 0 {
		if report.Error == "" {
			return nil
		}
		return [][]interface{}{{started, report.RunID, report.Host, string(report.Kind), "", "run-failed", "", "", "", report.Error}}
	}

	rows := make([][]interface{}, 0, len(report.Results))
	for _, res := range report.Results {
		rows = append(rows, []interface{}{
			started,
			report.RunID,
			report.Host,
			string(report.Kind),
			res.AccountID,
			string(res.Outcome),
			fmt.Sprintf("%.1f", res.EstimatedMB),
			fmt.Sprintf("%.1f", res.ActualMB),
			len(res.Deleted),
			res.Error,
		})
	}
	return rows
}
