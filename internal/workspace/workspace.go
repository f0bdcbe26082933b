package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout holds the directories shared between the pipeline and the generation engine
type Layout struct {
	InputDir  string
	OutputDir string
	TempDir   string // engine scratch/temp output area

	// StagingDir receives inputs downloaded from the content service before normalization. Optional.
	StagingDir string
}

// Dirs returns every workspace directory in reset order
func (l Layout) Dirs() []string {
	return []string{l.OutputDir, l.InputDir, l.TempDir, l.StagingDir}
}

// Reset wipes and recreates every workspace directory.
// Nothing from a previous request survives a reset.
func (l Layout) Reset() error {
	for _, dir := range l.Dirs() {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// InputPath returns the full path of a file in the input directory
func (l Layout) InputPath(name string) (string, error) {
	return within(l.InputDir, name)
}

// StagingPath returns the full path of a file in the staging directory
func (l Layout) StagingPath(name string) (string, error) {
	if l.StagingDir == "" {
		return "", fmt.Errorf("no staging directory configured")
	}
	return within(l.StagingDir, name)
}

// Contains reports whether path lies inside one of the workspace directories.
// Such a file does not survive the reset at the start of a run.
func (l Layout) Contains(path string) bool {
	for _, dir := range l.Dirs() {
		if dir != "" && IsWithin(dir, path) {
			return true
		}
	}
	return false
}

// IsWithin reports whether path is root itself or lies below it, after both are made absolute
func IsWithin(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return under(absRoot, absPath)
}

func under(base, path string) bool {
	base = filepath.Clean(base)
	path = filepath.Clean(path)
	return path == base || strings.HasPrefix(path, base+string(filepath.Separator))
}

func within(baseDir, name string) (string, error) {
	path := filepath.Join(baseDir, name)

	// Security: prevent directory traversal
	if !under(baseDir, path) {
		return "", fmt.Errorf("invalid name %q: path traversal detected", name)
	}

	return path, nil
}
