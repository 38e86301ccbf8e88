package checkpoint

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const exhaustedMarker = "exhausted"

// Progress is the resume state of the paginated tweet search: the
// continuation token, the running tweet count and whether the search has
// run out of pages.
type Progress struct {
	Token     string
	Count     int64
	Exhausted bool
}

// ProgressFile stores Progress as a small text file: token line, count line
// and an optional "exhausted" line.
type ProgressFile struct {
	path string
}

// NewProgressFile returns a progress file at path
func NewProgressFile(path string) *ProgressFile {
	return &ProgressFile{path: path}
}

// Path returns the file location
func (p *ProgressFile) Path() string {
	return p.path
}

// Load reads the saved progress. A missing file yields zero progress.
func (p *ProgressFile) Load() (Progress, error) {
	file, err := os.Open(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Progress{}, nil
		}
		return Progress{}, fmt.Errorf("failed to open progress file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() && len(lines) < 3 {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return Progress{}, fmt.Errorf("failed to read progress file: %w", err)
	}

	var pr Progress
	if len(lines) > 0 {
		pr.Token = lines[0]
	}
	if len(lines) > 1 && lines[1] != "" {
		pr.Count, err = strconv.ParseInt(lines[1], 10, 64)
		if err != nil {
			return Progress{}, fmt.Errorf("invalid count in progress file: %w", err)
		}
	}
	if len(lines) > 2 {
		pr.Exhausted = lines[2] == exhaustedMarker
	}
	return pr, nil
}

// Save writes progress atomically: a temporary file is written and synced,
// then renamed over the old one.
func (p *ProgressFile) Save(pr Progress) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create progress directory: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%d\n", pr.Token, pr.Count)
	if pr.Exhausted {
		b.WriteString(exhaustedMarker + "\n")
	}

	tempPath := p.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary progress file: %w", err)
	}

	if _, err := file.WriteString(b.String()); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write progress file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync progress file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close progress file: %w", err)
	}

	if err := os.Rename(tempPath, p.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace progress file: %w", err)
	}

	return nil
}
