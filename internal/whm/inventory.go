package whm

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"whm-backup/internal/backup"
	"whm-backup/internal/execute"
)

// CommandInventory lists accounts by running whmapi1 through a runner.
type CommandInventory struct {
	runner  execute.Runner
	command string
	logger  zerolog.Logger
}

// NewCommandInventory returns an inventory that runs command, normally
// "whmapi1 --output=json listaccts".
func NewCommandInventory(runner execute.Runner, command string, logger zerolog.Logger) *CommandInventory {
	return &CommandInventory{
		runner:  runner,
		command: command,
		logger:  logger.With().Str("component", "inventory").Logger(),
	}
}

func (i *CommandInventory) ListAccounts(ctx context.Context) ([]backup.Account, error) {
	i.logger.Debug().Str("host", i.runner.Host()).Str("command", i.command).Msg("Listing accounts")

	stdout, _, err := i.runner.Run(ctx, i.command)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts on %s: %w", i.runner.Host(), err)
	}

	accounts, err := ParseListAccts([]byte(stdout))
	if err != nil {
		return nil, err
	}
	i.logger.Info().Int("accounts", len(accounts)).Msg("Accounts discovered")
	return accounts, nil
}

// FileInventory reads a saved listaccts payload.
type FileInventory struct {
	path string
}

// NewFileInventory returns an inventory backed by the file at path.
func NewFileInventory(path string) *FileInventory {
	return &FileInventory{path: path}
}

func (f *FileInventory) ListAccounts(ctx context.Context) ([]backup.Account, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}
	return ParseListAccts(data)
}
