package executor

import (
	"testing"

	"github.com/fsnotify/fsnotify"
)

func TestRelevantChange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write to source", fsnotify.Event{Name: "/fx/main.go", Op: fsnotify.Write}, true},
		{"new file", fsnotify.Event{Name: "/fx/data.json", Op: fsnotify.Create}, true},
		{"deleted file", fsnotify.Event{Name: "/fx/old.txt", Op: fsnotify.Remove}, true},
		{"chmod only", fsnotify.Event{Name: "/fx/main.go", Op: fsnotify.Chmod}, false},
		{"hidden file", fsnotify.Event{Name: "/fx/.git", Op: fsnotify.Write}, false},
		{"vim swap", fsnotify.Event{Name: "/fx/main.go.swp", Op: fsnotify.Write}, false},
		{"editor backup", fsnotify.Event{Name: "/fx/notes.bak", Op: fsnotify.Create}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := relevantChange(tt.event); got != tt.want {
				t.Errorf("relevantChange(%v) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}
