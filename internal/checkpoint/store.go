// Package checkpoint persists evaluation outcomes so that an interrupted run
// can resume without re-invoking (and re-billing) completed pairs.
//
// Records are stored as JSON lines, one complete outcome per line, appended
// with a single write followed by fsync.
package checkpoint

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/giantswarm/scaffold-bench/internal/evaluation"
)

// Store is the durable record of evaluated (question, condition) pairs.
type Store interface {
	Has(questionID string, cond evaluation.Condition) bool
	Get(questionID string, cond evaluation.Condition) (evaluation.Outcome, bool)
	All() []evaluation.Outcome
	Append(outcome evaluation.Outcome) error
	Clear() error
}

// FileStore is a Store backed by an append-only JSONL file.
type FileStore struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	records map[evaluation.Key]evaluation.Outcome
	order   []evaluation.Key
}

var _ Store = (*FileStore)(nil)

// Open opens (or creates) the checkpoint file at path and replays its records.
// A trailing partial line left by a crash mid-write is truncated away.
func Open(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint %s: %w", path, err)
	}

	s := &FileStore{
		path:    path,
		file:    f,
		records: make(map[evaluation.Key]evaluation.Outcome),
	}
	if err := s.replay(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileStore) replay() error {
	data, err := io.ReadAll(s.file)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint %s: %w", s.path, err)
	}

	complete := len(data)
	if complete > 0 && data[complete-1] != '\n' {
		complete = bytes.LastIndexByte(data, '\n') + 1
		slog.Warn("discarding partial checkpoint record",
			"path", s.path,
			"bytes", len(data)-complete,
		)
		if err := s.file.Truncate(int64(complete)); err != nil {
			return fmt.Errorf("failed to truncate partial checkpoint record: %w", err)
		}
	}
	if _, err := s.file.Seek(int64(complete), io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek checkpoint: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data[:complete]))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var o evaluation.Outcome
		if err := json.Unmarshal(line, &o); err != nil || o.QuestionID == "" || o.Condition == "" {
			slog.Warn("skipping malformed checkpoint record", "path", s.path, "line", lineNum, "error", err)
			continue
		}
		s.put(o)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan checkpoint %s: %w", s.path, err)
	}

	slog.Debug("checkpoint loaded", "path", s.path, "records", len(s.order))
	return nil
}

func (s *FileStore) put(o evaluation.Outcome) {
	k := o.Key()
	if _, ok := s.records[k]; !ok {
		s.order = append(s.order, k)
	}
	s.records[k] = o
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return s.path
}

// Has reports whether an outcome is checkpointed for the pair.
func (s *FileStore) Has(questionID string, cond evaluation.Condition) bool {
	_, ok := s.Get(questionID, cond)
	return ok
}

// Get returns the checkpointed outcome for the pair.
func (s *FileStore) Get(questionID string, cond evaluation.Condition) (evaluation.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.records[evaluation.Key{QuestionID: questionID, Condition: cond}]
	return o, ok
}

// All returns every checkpointed outcome in first-append order.
func (s *FileStore) All() []evaluation.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]evaluation.Outcome, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.records[k])
	}
	return out
}

// Len returns the number of checkpointed pairs.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Append durably records an outcome. It returns only after the record has
// been written and synced. Re-appending an identical outcome is a no-op.
func (s *FileStore) Append(o evaluation.Outcome) error {
	if o.QuestionID == "" || o.Condition == "" {
		return fmt.Errorf("outcome must have a question id and condition")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("checkpoint %s is closed", s.path)
	}

	line, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint record: %w", err)
	}
	if prev, ok := s.records[o.Key()]; ok {
		if prevLine, err := json.Marshal(prev); err == nil && bytes.Equal(prevLine, line) {
			return nil
		}
	}
	line = append(line, '\n')

	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("failed to write checkpoint record %s: %w", o.Key(), err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}

	s.put(o)
	return nil
}

// Clear removes every record, on disk and in memory.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("checkpoint %s is closed", s.path)
	}
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind checkpoint: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}

	s.records = make(map[evaluation.Key]evaluation.Outcome)
	s.order = nil
	slog.Info("checkpoint cleared", "path", s.path)
	return nil
}

// Close releases the underlying file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// PathFor returns the checkpoint file used for a benchmark, model and
// pre-prompt combination. Outcomes recorded under one combination are never
// reused for another.
func PathFor(dir, benchmark, model, prePrompt string) string {
	sum := sha256.Sum256([]byte(benchmark + "\x00" + model + "\x00" + prePrompt))
	name := fmt.Sprintf("%s__%s__%s.jsonl",
		sanitize(benchmark), sanitize(model), hex.EncodeToString(sum[:])[:12])
	return filepath.Join(dir, name)
}

// Remove deletes a checkpoint file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove checkpoint %s: %w", path, err)
	}
	return nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
