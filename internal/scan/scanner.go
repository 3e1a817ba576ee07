// Package scan produces per-cycle snapshots of a git working tree: the list
// of changed paths from a short status listing plus, for each path, the diff
// against HEAD. All diffs are fetched in one batch immediately after the
// status listing so every file in the cycle is reviewed against one
// consistent snapshot, even if the tree keeps changing underneath.
package scan

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ChangedFile is one entry from the status listing.
type ChangedFile struct {
	// Path is the file path relative to the repository root. For a
	// rename entry this is the new path.
	Path string

	// Status is the two-character short status code.
	Status string

	// Diff is the unified diff against HEAD. None for files with no
	// committed counterpart, e.g. untracked files.
	Diff fn.Option[string]
}

// Snapshot is one cycle's consistent view of the working tree. It is owned
// by the scheduler for the duration of the cycle and discarded at cycle end.
type Snapshot struct {
	// Root is the absolute repository root.
	Root string

	// Files lists the changed files in status order.
	Files []ChangedFile
}

// Scanner runs git against a fixed working directory.
type Scanner struct {
	dir string
}

// New creates a scanner rooted at dir.
func New(dir string) *Scanner {
	return &Scanner{dir: dir}
}

// git runs one git command and returns its stdout. A non-zero exit becomes
// an error carrying the command's stderr.
func (s *Scanner) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}

		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}

	return stdout.String(), nil
}

// Snapshot returns the current set of changed files with their diffs. A
// failing status or diff command aborts the whole snapshot; the caller
// reports the error and waits for the next cycle.
func (s *Scanner) Snapshot(ctx context.Context) (*Snapshot, error) {
	statusOut, err := s.git(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	files := parseStatus(statusOut)
	if len(files) == 0 {
		return &Snapshot{}, nil
	}

	rootOut, err := s.git(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, err
	}
	root := strings.TrimSpace(rootOut)

	// Fetch every diff up front, before any analysis begins, so the
	// whole cycle reviews one consistent snapshot.
	for i := range files {
		diff, err := s.git(ctx, "diff", "HEAD", "--", files[i].Path)
		if err != nil {
			return nil, err
		}

		if strings.TrimSpace(diff) != "" {
			files[i].Diff = fn.Some(diff)
		}
	}

	log.Debugf("Snapshot of %s: %d changed file(s)", root, len(files))

	return &Snapshot{
		Root:  root,
		Files: files,
	}, nil
}

// parseStatus parses `git status --porcelain` output: one
// "<2-char status><space><path>" entry per line. Rename entries report the
// new path.
func parseStatus(out string) []ChangedFile {
	var files []ChangedFile
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}

		status := line[:2]
		path := strings.TrimSpace(line[3:])

		// "R  old -> new" keeps only the destination.
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}

		// Paths with special characters come back quoted.
		path = strings.Trim(path, `"`)
		if path == "" {
			continue
		}

		files = append(files, ChangedFile{
			Path:   path,
			Status: status,
		})
	}

	return files
}

// ReadFile returns the full content of a changed file, used as review input
// when a matched rule applies to a file that has no diff against HEAD.
func ReadFile(root, relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, relPath))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", relPath, err)
	}

	return string(data), nil
}
