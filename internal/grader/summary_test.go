package grader

import (
	"strings"
	"testing"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	out := `ok: step one
ok: step two
ERROR: widget not found
assertion failed: want 3
ok: step three`

	sum := Summarize(out)
	lines := strings.Split(sum, "\n")
	if lines[0] != "ERROR: widget not found" {
		t.Fatalf("first line = %q, want the error line first", lines[0])
	}
	if len(lines) > 5 {
		t.Fatalf("summary too long: %d lines", len(lines))
	}
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	if got := Summarize("  \n\n"); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestSummarizeDeduplicates(t *testing.T) {
	t.Parallel()

	out := "error: boom\nerror: boom\nerror: boom"
	if got := Summarize(out); got != "error: boom" {
		t.Fatalf("got %q, want single deduplicated line", got)
	}
}
