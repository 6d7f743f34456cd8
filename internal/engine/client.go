package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to the assistant engine over HTTP. Thread events arrive as a
// Server-Sent Events stream, one JSON event per data line.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	stream  *http.Client
	logger  zerolog.Logger
}

// NewClient creates an engine client for the given base URL.
func NewClient(baseURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		// No client timeout on the stream; lifetime is bounded by context.
		stream: &http.Client{},
		logger: logger.With().Str("component", "engine.client").Logger(),
	}
}

// CreateThreadRequest creates a new engine thread. When InitialPrompt is
// non-empty the thread's run loop starts with it as the first user turn, so
// no separate injection call is needed.
type CreateThreadRequest struct {
	Project       string `json:"project"`
	Username      string `json:"username"`
	DisplayName   string `json:"displayName,omitempty"`
	InitialPrompt string `json:"initialPrompt,omitempty"`
}

type createThreadResponse struct {
	ID string `json:"id"`
}

// CreateThread creates a thread and returns its opaque id.
func (c *Client) CreateThread(ctx context.Context, req CreateThreadRequest) (string, error) {
	var resp createThreadResponse
	if err := c.post(ctx, "/api/threads", req, &resp); err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("creating thread: engine returned empty id")
	}
	return resp.ID, nil
}

// SendMessage injects a new user turn into an already-running thread.
func (c *Client) SendMessage(ctx context.Context, threadID, prompt string) error {
	body := struct {
		Prompt string `json:"prompt"`
	}{Prompt: prompt}
	if err := c.post(ctx, "/api/threads/"+threadID+"/messages", body, nil); err != nil {
		return fmt.Errorf("sending message to thread %s: %w", threadID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Ping checks engine reachability, used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine health returned %d", resp.StatusCode)
	}
	return nil
}

// Stream opens the SSE event stream for a thread and invokes fn for every
// event, in delivery order, until the stream ends or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, threadID string, fn func(Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/threads/"+threadID+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine stream returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.logger.Warn().Err(err).Str("thread", threadID).Msg("skipping malformed stream event")
			continue
		}
		fn(ev)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}
