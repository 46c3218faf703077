// Package ledger maintains the append-only cross-run history file. Every
// finalized run appends one entry under an exclusive file lock; concurrent
// harness invocations contend on the lock with a bounded wait, and losing
// the wait costs at most one run's entry.
package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hollowvale/skillharness/internal/result"
)

// ErrLockTimeout means the ledger lock could not be acquired within the
// bounded wait. Callers should log and continue rather than fail the run.
var ErrLockTimeout = errors.New("ledger lock acquisition timed out")

const (
	defaultLockWait    = 5 * time.Second
	defaultLockBackoff = 100 * time.Millisecond
)

// Entry is one run's ledger record: the run metadata plus every trial result,
// written as a single line and never rewritten.
type Entry struct {
	Run    result.Run           `json:"run"`
	Trials []result.TrialResult `json:"trials"`
}

// Ledger appends to and reads from a single JSONL history file.
type Ledger struct {
	path        string
	lockWait    time.Duration
	lockBackoff time.Duration
	logger      *slog.Logger
}

// New returns a Ledger over path. The file is created on first append.
func New(path string, logger *slog.Logger) *Ledger {
	return &Ledger{
		path:        path,
		lockWait:    defaultLockWait,
		lockBackoff: defaultLockBackoff,
		logger:      logger,
	}
}

// Append writes one entry under an exclusive lock. The lock is polled with a
// short backoff up to the bounded wait; on timeout the entry is dropped and
// ErrLockTimeout returned so the caller can degrade to a warning.
func (l *Ledger) Append(entry *Entry) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating ledger dir: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := l.acquire(f); err != nil {
		return err
	}
	defer func() {
		if err := releaseLock(f); err != nil {
			l.logger.Warn("releasing ledger lock", "error", err)
		}
	}()

	enc := json.NewEncoder(f)
	if err := enc.Encode(entry); err != nil {
		return fmt.Errorf("appending ledger entry: %w", err)
	}
	return nil
}

// acquire retries the non-blocking lock until it succeeds or the wait budget
// runs out.
func (l *Ledger) acquire(f *os.File) error {
	deadline := time.Now().Add(l.lockWait)
	for {
		err := tryLock(f)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errWouldBlock) {
			return fmt.Errorf("locking ledger: %w", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrLockTimeout, l.lockWait)
		}
		time.Sleep(l.lockBackoff)
	}
}

// Entries reads the whole ledger in append order. A missing file is an empty
// history, not an error.
func (l *Ledger) Entries() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			// A torn write from a crashed run should not make the whole
			// history unreadable.
			l.logger.Warn("skipping malformed ledger line", "line", line, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	return entries, nil
}

// LastRun returns the most recent entry for the given suite, or nil when the
// suite has no history yet.
func (l *Ledger) LastRun(suite string) (*Entry, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Run.Suite == suite {
			return &entries[i], nil
		}
	}
	return nil, nil
}
