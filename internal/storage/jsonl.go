package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"swapsequencer/internal/ledger"
	"swapsequencer/internal/model"
)

// changeLine is one persisted balance delta, tagged with the cursor it
// became final at.
type changeLine struct {
	Cursor int64               `json:"cursor"`
	Change ledger.ChangeRecord `json:"change"`
}

// JsonlSink appends balance deltas to a JSONL file and writes snapshots
// as sibling JSON files.
type JsonlSink struct {
	path string
	mu   sync.Mutex
}

func NewJsonlSink(path string) *JsonlSink {
	return &JsonlSink{path: path}
}

// SaveChanges appends a batch of balance deltas as JSON lines.
func (s *JsonlSink) SaveChanges(_ context.Context, cursor int64, changes []ledger.ChangeRecord) error {
	if len(changes) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, change := range changes {
		line, err := json.Marshal(changeLine{Cursor: cursor, Change: change})
		if err != nil {
			return fmt.Errorf("marshal change record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write change record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}

// SaveSnapshot writes the full state capture next to the change log.
func (s *JsonlSink) SaveSnapshot(_ context.Context, cursor int64, data *model.SnapshotData) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	path := fmt.Sprintf("%s.snapshot.%d.json", s.path, cursor)
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, encoded, 0o644); err != nil {
		return fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}
