package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"swapsequencer/internal/model"
)

func writeEvents(t *testing.T, events []*model.OpEvent) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	return path
}

func TestFileSourcePaging(t *testing.T) {
	src := NewFileSource(writeEvents(t, []*model.OpEvent{
		{Cursor: 0, Height: 100, Kind: model.EventDeploy},
		{Cursor: 1, Height: 101, Kind: model.EventTransfer},
		{Cursor: 2, Height: 102, Kind: model.EventTransfer},
		{Cursor: 3, Height: model.UnconfirmedHeight, Kind: model.EventCommit},
	}))

	batch, err := src.Events(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(batch) != 2 || batch[0].Cursor != 1 || batch[1].Cursor != 2 {
		t.Fatalf("unexpected batch: %+v", batch)
	}

	tail, err := src.Events(context.Background(), 4, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(tail) != 0 {
		t.Fatalf("expected empty tail, got %d events", len(tail))
	}

	best, err := src.BestHeight(context.Background())
	if err != nil {
		t.Fatalf("best height: %v", err)
	}
	// Unmined events never count toward the tip.
	if best != 102 {
		t.Fatalf("best = %d, want 102", best)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "nope.jsonl"))
	if _, err := src.Events(context.Background(), 0, 10); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestHTTPSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			http.NotFound(w, r)
			return
		}
		cursor := r.URL.Query().Get("cursor")
		resp := eventsResponse{BestHeight: 840000}
		if cursor == "0" && r.URL.Query().Get("size") != "0" {
			resp.List = []*model.OpEvent{
				{Cursor: 0, Height: 839999, Kind: model.EventDeploy},
				{Cursor: 1, Height: 840000, Kind: model.EventTransfer},
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL, 0)

	events, err := src.Events(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[1].Cursor != 1 {
		t.Fatalf("unexpected events: %+v", events)
	}

	best, err := src.BestHeight(context.Background())
	if err != nil {
		t.Fatalf("best height: %v", err)
	}
	if best != 840000 {
		t.Fatalf("best = %d, want 840000", best)
	}
}

func TestHTTPSourceErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL, 0)
	if _, err := src.Events(context.Background(), 0, 10); err == nil {
		t.Fatalf("expected error for 502")
	}
}
