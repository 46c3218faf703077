package grader

import "strings"

// Summarize condenses raw grader output into a short detail string:
// error-looking lines first, then leading lines, capped at five.
func Summarize(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")

	var picked []string
	seen := make(map[string]bool)
	add := func(line string) {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] || len(picked) >= 5 {
			return
		}
		seen[line] = true
		picked = append(picked, line)
	}

	for _, line := range lines {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "fail") ||
			strings.Contains(lower, "panic") || strings.Contains(lower, "expected") {
			add(line)
		}
	}
	for _, line := range lines {
		add(line)
	}

	return strings.Join(picked, "\n")
}
