package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"swapsequencer/internal/model"
)

// HTTPSource polls a module event endpoint. The endpoint pages events by
// cursor: GET {base}/events?cursor=N&size=M returns the next batch along
// with the best block height.
type HTTPSource struct {
	base   string
	client *http.Client
}

type eventsResponse struct {
	List       []*model.OpEvent `json:"list"`
	BestHeight uint64           `json:"best_height"`
}

func NewHTTPSource(base string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) fetch(ctx context.Context, fromCursor int64, limit int) (*eventsResponse, error) {
	query := url.Values{}
	query.Set("cursor", strconv.FormatInt(fromCursor, 10))
	query.Set("size", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/events?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build events request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch events: status %d: %s", resp.StatusCode, body)
	}

	var decoded eventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode events response: %w", err)
	}
	return &decoded, nil
}

func (s *HTTPSource) Events(ctx context.Context, fromCursor int64, limit int) ([]*model.OpEvent, error) {
	decoded, err := s.fetch(ctx, fromCursor, limit)
	if err != nil {
		return nil, err
	}
	return decoded.List, nil
}

func (s *HTTPSource) BestHeight(ctx context.Context) (uint64, error) {
	decoded, err := s.fetch(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	return decoded.BestHeight, nil
}
