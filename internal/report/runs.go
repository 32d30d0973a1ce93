package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListRuns returns the metadata of every run under outputDir, newest first.
// Directories without a readable run.json are skipped.
func ListRuns(outputDir string) ([]Run, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	var runs []Run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		run, err := ReadRun(outputDir, e.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// ReadRun loads the metadata of one run.
func ReadRun(outputDir, runID string) (*Run, error) {
	dir, err := resolveRunPath(outputDir, runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("run %q not found: %w", runID, err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse run metadata: %w", err)
	}
	return &run, nil
}

// ReadRunFile returns the content of one of a run's files.
func ReadRunFile(outputDir, runID, name string) ([]byte, error) {
	switch name {
	case DetailFile, SummaryFile, MetadataFile:
	default:
		return nil, fmt.Errorf("unknown run file %q", name)
	}
	dir, err := resolveRunPath(outputDir, runID)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(dir, name))
}

func resolveRunPath(outputDir, runID string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run_id is required")
	}
	if strings.Contains(runID, string(filepath.Separator)) || strings.Contains(runID, "/") {
		return "", fmt.Errorf("path separators are not allowed")
	}
	if runID == "." || runID == ".." {
		return "", fmt.Errorf("path traversal is not allowed")
	}

	baseAbs, err := filepath.Abs(outputDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	targetAbs := filepath.Join(baseAbs, runID)
	rel, err := filepath.Rel(baseAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path must be within output directory")
	}
	return targetAbs, nil
}
