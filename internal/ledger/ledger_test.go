package ledger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/hollowvale/skillharness/internal/result"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	return New(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func entry(runID, suite string, passed int) *Entry {
	return &Entry{
		Run: result.Run{
			RunID:         runID,
			Suite:         suite,
			Totals:        result.Totals{TasksTotal: passed, TasksPassed: passed},
			SchemaVersion: result.RecordSchemaVersion,
		},
		Trials: []result.TrialResult{
			{RunID: runID, TaskID: "t1", Trial: 1, Status: result.StatusCompleted},
		},
	}
}

func TestAppendAndReadBack(t *testing.T) {
	t.Parallel()

	l := testLedger(t)
	for _, id := range []string{"run-a", "run-b", "run-c"} {
		if err := l.Append(entry(id, "core", 3)); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}

	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, want := range []string{"run-a", "run-b", "run-c"} {
		if entries[i].Run.RunID != want {
			t.Errorf("entry %d = %s, want %s (append order must be preserved)", i, entries[i].Run.RunID, want)
		}
	}
	if len(entries[0].Trials) != 1 || entries[0].Trials[0].TaskID != "t1" {
		t.Errorf("trials not round-tripped: %+v", entries[0].Trials)
	}
}

func TestEntriesMissingFile(t *testing.T) {
	t.Parallel()

	l := testLedger(t)
	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries on missing file: %v", err)
	}
	if entries != nil {
		t.Errorf("got %v, want empty history", entries)
	}
}

func TestEntriesSkipsMalformedLine(t *testing.T) {
	t.Parallel()

	l := testLedger(t)
	if err := l.Append(entry("run-a", "core", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Simulate a torn write from a crashed run.
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("{\"run\":{\"run_id\":\"trunc\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = f.Close()

	if err := l.Append(entry("run-b", "core", 1)); err != nil {
		t.Fatalf("Append after torn line: %v", err)
	}

	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (malformed line skipped)", len(entries))
	}
	if entries[0].Run.RunID != "run-a" || entries[1].Run.RunID != "run-b" {
		t.Errorf("wrong survivors: %s, %s", entries[0].Run.RunID, entries[1].Run.RunID)
	}
}

func TestLastRunFiltersBySuite(t *testing.T) {
	t.Parallel()

	l := testLedger(t)
	for _, e := range []*Entry{
		entry("run-1", "core", 1),
		entry("run-2", "smoke", 1),
		entry("run-3", "core", 1),
	} {
		if err := l.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := l.LastRun("core")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if got == nil || got.Run.RunID != "run-3" {
		t.Errorf("LastRun(core) = %+v, want run-3", got)
	}

	none, err := l.LastRun("absent")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if none != nil {
		t.Errorf("LastRun(absent) = %+v, want nil", none)
	}
}

func TestAppendLockTimeout(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("file locking is a no-op on windows")
	}

	l := testLedger(t)
	l.lockWait = 200 * time.Millisecond
	l.lockBackoff = 20 * time.Millisecond

	// Hold the lock from a second handle for longer than the wait budget.
	if err := l.Append(entry("run-seed", "core", 1)); err != nil {
		t.Fatalf("seed append: %v", err)
	}
	holder, err := os.OpenFile(l.path, os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open holder: %v", err)
	}
	defer func() { _ = holder.Close() }()
	if err := tryLock(holder); err != nil {
		t.Fatalf("holder lock: %v", err)
	}
	defer func() { _ = releaseLock(holder) }()

	err = l.Append(entry("run-blocked", "core", 1))
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}

	// The blocked entry must not have been written.
	_ = releaseLock(holder)
	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries, want 1 (blocked append dropped)", len(entries))
	}
}
