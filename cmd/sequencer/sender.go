package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"swapsequencer/internal/model"
	"swapsequencer/internal/operator"
	"swapsequencer/internal/storage/postgres"
)

// inscribeSender posts commit bodies to an inscription service and returns
// the resulting inscription id.
type inscribeSender struct {
	endpoint string
	client   *http.Client
}

func newInscribeSender(endpoint string) *inscribeSender {
	return &inscribeSender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type inscribeRequest struct {
	Content string `json:"content"`
}

type inscribeResponse struct {
	InscriptionID string `json:"inscription_id"`
}

func (s *inscribeSender) SendCommit(ctx context.Context, content string) (string, error) {
	body, err := json.Marshal(inscribeRequest{Content: content})
	if err != nil {
		return "", fmt.Errorf("marshal inscribe request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build inscribe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("inscribe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("inscribe request: status %d: %s", resp.StatusCode, msg)
	}

	var decoded inscribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode inscribe response: %w", err)
	}
	if decoded.InscriptionID == "" {
		return "", fmt.Errorf("inscribe response missing inscription id")
	}
	return decoded.InscriptionID, nil
}

// recordingSender wraps a sender and mirrors every published commit into
// the store. A failed record does not fail the publish; the inscription is
// already on its way.
type recordingSender struct {
	inner  operator.Sender
	store  *postgres.Store
	logger *zap.Logger
}

func newRecordingSender(inner operator.Sender, store *postgres.Store, logger *zap.Logger) *recordingSender {
	return &recordingSender{inner: inner, store: store, logger: logger}
}

func (s *recordingSender) SendCommit(ctx context.Context, content string) (string, error) {
	id, err := s.inner.SendCommit(ctx, content)
	if err != nil {
		return "", err
	}
	var commit model.Commit
	parent := ""
	if err := json.Unmarshal([]byte(content), &commit); err == nil {
		parent = commit.Parent
	}
	if err := s.store.SaveCommit(ctx, id, parent, content); err != nil {
		s.logger.Warn("commit record failed", zap.String("inscription_id", id), zap.Error(err))
	}
	return id, nil
}
