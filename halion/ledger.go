package halion

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var ledgerHeader = []string{
	"AttemptID",
	"CompletionTimestampLocal",
	"UserID",
	"Username",
	"QuestionNumber",
	"QuestionText",
	"AnswerText",
}

const ledgerTimestampLayout = "2006-01-02 15:04:05"

// LedgerEntry is one completed attempt, ready to be appended to the
// response ledger. Questions and Answers are index-aligned.
type LedgerEntry struct {
	AttemptID   int
	CompletedAt time.Time
	UserID      string
	Username    string
	Questions   []string
	Answers     []string
}

// ResponseLedger is the append-only CSV record of completed whitelist
// attempts. Each completed attempt contributes one row per question, all
// sharing the attempt ID and completion timestamp. The header row is
// written only when the file is new or empty.
type ResponseLedger struct {
	mu       sync.Mutex
	path     string
	location *time.Location
}

func NewResponseLedger(path string, location *time.Location) *ResponseLedger {
	if location == nil {
		location = time.UTC
	}
	return &ResponseLedger{path: path, location: location}
}

// Append writes the entry's rows to the ledger file, creating it (with a
// header) if needed. Timestamps are rendered in the ledger's configured
// location. The file is synced before returning, so a nil error means
// the rows are durable.
func (r *ResponseLedger) Append(entry LedgerEntry) error {
	if len(entry.Questions) != len(entry.Answers) {
		return fmt.Errorf(
			"ledger entry has %d questions but %d answers",
			len(entry.Questions),
			len(entry.Answers),
		)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	f, err := os.OpenFile(
		r.path,
		os.O_APPEND|os.O_CREATE|os.O_WRONLY,
		0o644,
	)
	if err != nil {
		return fmt.Errorf("opening ledger file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat ledger file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err = w.Write(ledgerHeader); err != nil {
			return fmt.Errorf("writing ledger header: %w", err)
		}
	}

	timestamp := entry.CompletedAt.In(r.location).Format(ledgerTimestampLayout)
	for i, question := range entry.Questions {
		row := []string{
			strconv.Itoa(entry.AttemptID),
			timestamp,
			entry.UserID,
			entry.Username,
			strconv.Itoa(i + 1),
			question,
			entry.Answers[i],
		}
		if err = w.Write(row); err != nil {
			return fmt.Errorf("writing ledger row %d: %w", i+1, err)
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return fmt.Errorf("flushing ledger: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("syncing ledger: %w", err)
	}
	return nil
}
