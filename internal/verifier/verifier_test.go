package verifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"swapsequencer/internal/model"
)

func TestVerifyRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req model.VerifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Commits) != 1 || len(req.Results) != 1 {
			t.Errorf("request = %d commits, %d results", len(req.Commits), len(req.Results))
		}
		json.NewEncoder(w).Encode(model.VerifyResponse{Valid: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	resp, err := c.Verify(context.Background(), &model.VerifyRequest{
		Commits: []string{`{"op":"commit"}`},
		Results: []model.Result{{}},
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !resp.Valid || resp.Critical {
		t.Fatalf("response = %+v, want valid non-critical", resp)
	}
}

func TestVerifyRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		idx := 0
		json.NewEncoder(w).Encode(model.VerifyResponse{
			Valid:    false,
			Critical: true,
			Index:    &idx,
			Message:  "signature mismatch",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	resp, err := c.Verify(context.Background(), &model.VerifyRequest{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if resp.Valid || !resp.Critical || resp.Message != "signature mismatch" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Index == nil || *resp.Index != 0 {
		t.Fatalf("index = %v, want 0", resp.Index)
	}
}

func TestVerifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	if _, err := c.Verify(context.Background(), &model.VerifyRequest{}); err == nil {
		t.Fatalf("expected error on 502 response")
	}
}
