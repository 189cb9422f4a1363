package halion

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
)

// AttemptCounter issues sequential attempt IDs backed by a flat file
// holding the last committed ID as a plain integer.
//
// Next proposes an ID but does not persist it. Commit writes it to disk.
// Callers commit only after the attempt's ledger row has been durably
// appended, so IDs are strictly increasing and consecutive across
// successful completions. An attempt that never completes burns nothing.
type AttemptCounter struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

func NewAttemptCounter(path string, logger *slog.Logger) *AttemptCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttemptCounter{
		path:   path,
		logger: logger.With(loggerNameKey, "attempt_counter"),
	}
}

// Next returns the next attempt ID (last committed + 1). A missing,
// unreadable or malformed counter file is not fatal: the counter restarts
// from 1 with a logged warning rather than blocking onboarding.
func (a *AttemptCounter) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastCommitted() + 1
}

func (a *AttemptCounter) lastCommitted() int {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if !os.IsNotExist(err) {
			a.logger.Warn(
				"could not read attempt counter file, restarting from zero",
				"path", a.path,
				tint.Err(err),
			)
		}
		return 0
	}
	last, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || last < 0 {
		a.logger.Warn(
			"malformed attempt counter file, restarting from zero",
			"path", a.path,
			"content", truncate(string(data), 64),
		)
		return 0
	}
	return last
}

// Commit persists id as the last issued attempt ID. Call this only after
// the attempt's ledger row has been written.
func (a *AttemptCounter) Commit(id int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating counter directory: %w", err)
		}
	}
	if err := os.WriteFile(
		a.path,
		[]byte(strconv.Itoa(id)),
		0o644,
	); err != nil {
		return fmt.Errorf("writing counter file: %w", err)
	}
	return nil
}
