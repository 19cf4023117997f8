package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chatsync/pkg/models"
)

// Fetcher retrieves message pages from the history API. The realtime stream
// carries deltas only; full windows (initial load, older pages, post-reconnect
// resync) come from here.
type Fetcher interface {
	FetchPage(ctx context.Context, page, pageSize int) ([]models.Message, models.Pagination, error)
}

// HTTPFetcher reads pages from the server's REST surface.
type HTTPFetcher struct {
	BaseURL string // e.g. http://localhost:8080
	Token   string // bearer token, same credential as the websocket handshake
	Client  *http.Client
}

func (f *HTTPFetcher) FetchPage(ctx context.Context, page, pageSize int) ([]models.Message, models.Pagination, error) {
	hc := f.Client
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/v1/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, models.Pagination{}, err
	}
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, models.Pagination{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, models.Pagination{}, fmt.Errorf("fetch page: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Messages   []models.Message  `json:"messages"`
		Pagination models.Pagination `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, models.Pagination{}, err
	}
	return body.Messages, body.Pagination, nil
}
