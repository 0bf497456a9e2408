package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ksred/skyline-api/internal/config"
)

// VideoClient talks to the video generation REST endpoint
type VideoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewVideoClient creates a client for cfg.VideoURL
func NewVideoClient(cfg config.AIConfig) *VideoClient {
	return &VideoClient{
		baseURL:    strings.TrimRight(cfg.VideoURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// StartVideo submits a generation and returns its polling handle
func (c *VideoClient) StartVideo(ctx context.Context, prompt string) (op VideoOperation, err error) {
	defer func() { observe("video_start", err) }()

	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return VideoOperation{}, err
	}
	op, err = c.do(ctx, http.MethodPost, c.baseURL+"/videos", body)
	if err != nil {
		return VideoOperation{}, fmt.Errorf("video start: %w", err)
	}
	if op.ID == "" {
		return VideoOperation{}, fmt.Errorf("video start: %w: missing operation id", ErrBadResponse)
	}
	return op, nil
}

// PollVideo fetches the current state of a generation
func (c *VideoClient) PollVideo(ctx context.Context, id string) (op VideoOperation, err error) {
	defer func() { observe("video_poll", err) }()

	op, err = c.do(ctx, http.MethodGet, c.baseURL+"/videos/"+url.PathEscape(id), nil)
	if err != nil {
		return VideoOperation{}, fmt.Errorf("video poll: %w", err)
	}
	return op, nil
}

func (c *VideoClient) do(ctx context.Context, method, endpoint string, body []byte) (VideoOperation, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return VideoOperation{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return VideoOperation{}, classify("request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
			return VideoOperation{}, fmt.Errorf("%w: %s", sentinel, resp.Status)
		}
		return VideoOperation{}, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var op VideoOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return VideoOperation{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return op, nil
}
