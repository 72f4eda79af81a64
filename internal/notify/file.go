package notify

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"whm-backup/internal/backup"
)

// Encode renders v as indented json or yaml.
func Encode(v any, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "yaml", "yml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// FileSink writes each report to <dir>/<kind>-<started>-<run id>.<format>.
type FileSink struct {
	dir    string
	format string
}

// NewFileSink returns a sink writing into dir.
func NewFileSink(dir, format string) *FileSink {
	if format == "" {
		format = "json"
	}
	return &FileSink{dir: dir, format: format}
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Deliver(ctx context.Context, report *backup.RunReport) error {
	data, err := Encode(report, s.format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}
	path := filepath.Join(s.dir, s.fileName(report))
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (s *FileSink) fileName(report *backup.RunReport) string {
	ext := s.format
	if ext == "yml" {
		ext = "yaml"
	}
	return fmt.Sprintf("%s-%s-%s.%s", report.Kind, report.StartedAt.UTC().Format("20060102-150405"), report.RunID, ext)
}
