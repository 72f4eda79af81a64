// Package cron installs scheduled whm-backup runs into a host crontab.
package cron

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"whm-backup/internal/execute"
)

// markerPrefix tags the comment line above every managed entry.
const markerPrefix = "# whm-backup:"

// Job is one crontab entry.
type Job struct {
	Schedule string
	Command  string
	// Name is set for entries installed by whm-backup.
	Name    string
	NextRun *time.Time
}

// Managed reports whether the entry was installed by whm-backup.
func (j Job) Managed() bool {
	return j.Name != ""
}

// Manager edits the crontab of the user a runner executes as.
type Manager struct {
	runner execute.Runner
	now    func() time.Time
	logger zerolog.Logger
}

// NewManager returns a crontab manager for the host behind runner.
func NewManager(runner execute.Runner, logger zerolog.Logger) *Manager {
	return &Manager{
		runner: runner,
		now:    time.Now,
		logger: logger.With().Str("component", "crontab").Logger(),
	}
}

// ValidateExpression checks a standard five field cron expression.
func ValidateExpression(expr string) error {
	if n := len(strings.Fields(expr)); n != 5 && !strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return fmt.Errorf("cron expression must have exactly 5 parts, got %d", n)
	}
	if _, err := robfig.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRun returns the first activation of expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := robfig.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}

func (m *Manager) crontab(ctx context.Context) (string, error) {
	stdout, stderr, err := m.runner.Run(ctx, "crontab -l 2>/dev/null || true")
	if err != nil {
		return "", fmt.Errorf("failed to read crontab on %s: %s", m.runner.Host(), strings.TrimSpace(stderr+" "+err.Error()))
	}
	return stdout, nil
}

// List returns every entry in the crontab.
func (m *Manager) List(ctx context.Context) ([]Job, error) {
	current, err := m.crontab(ctx)
	if err != nil {
		return nil, err
	}
	return parseCrontab(current, m.now()), nil
}

// Install adds or replaces the managed entry called name.
func (m *Manager) Install(ctx context.Context, name, schedule, command string) error {
	if name == "" || strings.ContainsAny(name, " \n") {
		return fmt.Errorf("invalid job name %q", name)
	}
	if err := ValidateExpression(schedule); err != nil {
		return err
	}
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("command cannot be empty")
	}

	current, err := m.crontab(ctx)
	if err != nil {
		return err
	}
	lines, _ := withoutManaged(current, name)
	lines = append(lines, markerPrefix+name, fmt.Sprintf("%s %s", schedule, command))

	if err := m.write(ctx, lines); err != nil {
		return err
	}
	m.logger.Info().Str("name", name).Str("schedule", schedule).Str("host", m.runner.Host()).Msg("Cron job installed")
	return nil
}

// Remove deletes the managed entry called name.
func (m *Manager) Remove(ctx context.Context, name string) error {
	current, err := m.crontab(ctx)
	if err != nil {
		return err
	}
	lines, found := withoutManaged(current, name)
	if !found {
		return fmt.Errorf("cron job %s not found", name)
	}
	if err := m.write(ctx, lines); err != nil {
		return err
	}
	m.logger.Info().Str("name", name).Str("host", m.runner.Host()).Msg("Cron job removed")
	return nil
}

// write replaces the crontab after saving the previous one to
// $HOME/crontab-backup.txt.
func (m *Manager) write(ctx context.Context, lines []string) error {
	if _, stderr, err := m.runner.Run(ctx, `crontab -l 2>/dev/null > "$HOME/crontab-backup.txt"; true`); err != nil {
		m.logger.Warn().Str("stderr", stderr).Err(err).Msg("Failed to backup crontab")
	}

	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	cmd := fmt.Sprintf("cat <<'EOF' | crontab -\n%sEOF", content)
	if _, stderr, err := m.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("failed to update crontab: %s", strings.TrimSpace(stderr+" "+err.Error()))
	}
	return nil
}

// withoutManaged drops the marker and entry line of the managed job name.
func withoutManaged(crontab, name string) ([]string, bool) {
	var lines []string
	found := false
	skipNext := false
	scanner := bufio.NewScanner(strings.NewReader(crontab))
	for scanner.Scan() {
		line := scanner.Text()
		if skipNext {
			skipNext = false
			if strings.TrimSpace(line) != "" && !strings.HasPrefix(strings.TrimSpace(line), "#") {
				continue
			}
		}
		if strings.TrimSpace(line) == markerPrefix+name {
			found = true
			skipNext = true
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, found
}

func parseCrontab(crontab string, now time.Time) []Job {
	var jobs []Job
	pendingName := ""
	scanner := bufio.NewScanner(strings.NewReader(crontab))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if name, ok := strings.CutPrefix(line, markerPrefix); ok {
			pendingName = name
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if job := parseLine(line, now); job != nil {
			job.Name = pendingName
			jobs = append(jobs, *job)
		}
		pendingName = ""
	}
	return jobs
}

// parseLine splits "m h dom mon dow command". Variable assignments and
// malformed lines yield nil.
func parseLine(line string, now time.Time) *Job {
	parts := strings.Fields(line)
	var schedule, command string
	switch {
	case len(parts) >= 2 && strings.HasPrefix(parts[0], "@"):
		schedule = parts[0]
		command = strings.Join(parts[1:], " ")
	case len(parts) >= 6:
		schedule = strings.Join(parts[0:5], " ")
		command = strings.Join(parts[5:], " ")
	default:
		return nil
	}
	if strings.Contains(parts[0], "=") {
		return nil
	}

	job := &Job{Schedule: schedule, Command: command}
	if next, err := NextRun(schedule, now); err == nil {
		job.NextRun = &next
	}
	return job
}
