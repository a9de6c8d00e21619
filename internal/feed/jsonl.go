package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"swapsequencer/internal/model"
)

// FileSource serves events from a JSONL file, one OpEvent per line. The
// file is loaded once; replay and test runs use it in place of a live
// endpoint.
type FileSource struct {
	path string

	mu     sync.Mutex
	loaded bool
	events []*model.OpEvent
	best   uint64
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) load() error {
	if s.loaded {
		return nil
	}

	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open event file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<24)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event model.OpEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("parse event line %d: %w", lineNo, err)
		}
		s.events = append(s.events, &event)
		if event.Height != model.UnconfirmedHeight && event.Height > s.best {
			s.best = event.Height
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event file: %w", err)
	}

	sort.SliceStable(s.events, func(i, j int) bool {
		return s.events[i].Cursor < s.events[j].Cursor
	})
	s.loaded = true
	return nil
}

func (s *FileSource) Events(_ context.Context, fromCursor int64, limit int) ([]*model.OpEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}

	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].Cursor >= fromCursor
	})
	out := make([]*model.OpEvent, 0, limit)
	for ; idx < len(s.events) && len(out) < limit; idx++ {
		out = append(out, s.events[idx])
	}
	return out, nil
}

func (s *FileSource) BestHeight(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return 0, err
	}
	return s.best, nil
}
