package git

import (
	"fmt"
	"os/exec"
	"strings"

	gogit "github.com/go-git/go-git/v5"
)

// gitBinary is the executable used for porcelain status and diff output.
// The delta format below is defined over `git status --short` codes, which
// only the real git binary produces.
const gitBinary = "git"

// Status is a snapshot of `git status --short`: a path -> two-letter code
// mapping that also remembers the order paths first appeared, so deltas
// render deterministically.
type Status struct {
	Codes map[string]string
	Paths []string
}

// StatusEntry is one row of `git status --short`, order preserved.
type StatusEntry struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

// Delta is the before/after difference between two status snapshots.
// Entries are pre-rendered: "<path> (<code>)" for added/deleted and
// "<path> (<old> -> <new>)" for modified.
type Delta struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports whether no bucket has entries.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// IsRepository reports whether cwd is the root of a git repository.
func IsRepository(cwd string) bool {
	_, err := gogit.PlainOpen(cwd)
	return err == nil
}

func runGit(cwd string, args ...string) (string, bool) {
	cmd := exec.Command(gitBinary, args...)
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return string(out), true
}

// StatusMap runs `git status --short` in cwd and parses it into a snapshot.
// Returns ok=false when git is missing or exits non-zero (not a repository).
func StatusMap(cwd string) (*Status, bool) {
	out, ok := runGit(cwd, "status", "--short")
	if !ok {
		return nil, false
	}
	return ParseStatus(out), true
}

// ParseStatus parses `git status --short` output. Later lines for the same
// path overwrite earlier ones without disturbing the original position.
func ParseStatus(out string) *Status {
	status := &Status{Codes: make(map[string]string)}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		code := strings.TrimSpace(firstN(line, 2))
		path := strings.TrimSpace(line[min(3, len(line)):])
		if _, seen := status.Codes[path]; !seen {
			status.Paths = append(status.Paths, path)
		}
		status.Codes[path] = code
	}
	return status
}

// StatusRows runs `git status --short` and returns the rows in order.
func StatusRows(cwd string) ([]StatusEntry, bool) {
	out, ok := runGit(cwd, "status", "--short")
	if !ok {
		return nil, false
	}
	rows := make([]StatusEntry, 0)
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, StatusEntry{
			Status: strings.TrimSpace(firstN(line, 2)),
			Path:   strings.TrimSpace(line[min(3, len(line)):]),
		})
	}
	return rows, true
}

// DiffStat runs `git diff --stat` in cwd.
func DiffStat(cwd string) (string, bool) {
	return runGit(cwd, "diff", "--stat")
}

// Diff computes the delta between two snapshots. Added entries follow the
// order of after, deleted entries the order of before.
func Diff(before, after *Status) Delta {
	var delta Delta
	for _, path := range after.Paths {
		code := after.Codes[path]
		old, existed := before.Codes[path]
		switch {
		case !existed:
			delta.Added = append(delta.Added, fmt.Sprintf("%s (%s)", path, code))
		case old != code:
			delta.Modified = append(delta.Modified, fmt.Sprintf("%s (%s -> %s)", path, old, code))
		}
	}
	for _, path := range before.Paths {
		if _, exists := after.Codes[path]; !exists {
			delta.Deleted = append(delta.Deleted, fmt.Sprintf("%s (%s)", path, before.Codes[path]))
		}
	}
	return delta
}

// FormatDelta renders a delta as the block injected into the output stream.
func FormatDelta(delta Delta, command string) string {
	if delta.Empty() {
		return "=== Git Diff Before/After ===\n无文件变更\n=============================="
	}
	lines := []string{"=== Git Diff Before/After ==="}
	if command != "" {
		lines = append(lines, "Command: "+command)
	}
	if len(delta.Added) > 0 {
		lines = append(lines, "Added:")
		for _, item := range delta.Added {
			lines = append(lines, "  "+item)
		}
	}
	if len(delta.Modified) > 0 {
		lines = append(lines, "Modified:")
		for _, item := range delta.Modified {
			lines = append(lines, "  "+item)
		}
	}
	if len(delta.Deleted) > 0 {
		lines = append(lines, "Deleted:")
		for _, item := range delta.Deleted {
			lines = append(lines, "  "+item)
		}
	}
	lines = append(lines, "==============================")
	return strings.Join(lines, "\n")
}

func firstN(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}
