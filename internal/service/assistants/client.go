package assistants

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultTimeout = 60 * time.Second

	defaultStreamBuffer = 32
	maxErrorBody        = 4 << 10
	maxEventSize        = 1 << 20
)

var (
	ErrNotConfigured = errors.New("assistants api key not configured")
	ErrRunFailed     = errors.New("assistant run failed")
)

// Config describes how to reach the hosted assistants service.
type Config struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	StreamBuffer int
}

// Client talks to an OpenAI-compatible Assistants v2 endpoint.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	streamBuffer int
}

// NewClient validates cfg and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid assistants base url %q: %w", baseURL, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	buffer := cfg.StreamBuffer
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		// streaming runs are bounded by the request context only
		streamClient: &http.Client{},
		streamBuffer: buffer,
	}, nil
}

// CreateThread opens an empty remote conversation thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/threads", map[string]any{}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// AddMessage appends a message to a thread.
func (c *Client) AddMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]string{"role": role, "content": content}
	return c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/messages", body, nil)
}

// ListMessages returns one page of thread entries, newest first, starting after the given cursor.
func (c *Client) ListMessages(ctx context.Context, threadID string, limit int, after string) ([]ThreadMessage, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if after != "" {
		query.Set("after", after)
	}

	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var page messageList
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}

	out := make([]ThreadMessage, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, ThreadMessage{ID: m.ID, Role: m.Role, Content: toBlocks(m.Content)})
	}
	return out, nil
}

// GetAssistant fetches the assistant configuration.
func (c *Client) GetAssistant(ctx context.Context, assistantID string) (Assistant, error) {
	var out Assistant
	if err := c.do(ctx, http.MethodGet, "/assistants/"+url.PathEscape(assistantID), nil, &out); err != nil {
		return Assistant{}, err
	}
	return out, nil
}

// UpdateAssistant replaces the standing instructions of an assistant.
func (c *Client) UpdateAssistant(ctx context.Context, assistantID, instructions string) error {
	body := map[string]string{"instructions": instructions}
	return c.do(ctx, http.MethodPost, "/assistants/"+url.PathEscape(assistantID), body, nil)
}

// ChatCompletion runs a single non-streaming completion and returns the first choice.
func (c *Client) ChatCompletion(ctx context.Context, model string, temperature *float32, messages []ChatMessage) (string, error) {
	req := chatRequest{Model: model, Messages: messages, Temperature: temperature}

	var out chatResponse
	if err := c.do(ctx, http.MethodPost, "/chat/completions", req, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// StreamRun starts a streaming run of assistantID on threadID. Events are delivered in
// arrival order through a bounded pipe; the reader yields io.EOF once the run is done.
// Closing the reader abandons the run without cancelling it remotely.
func (c *Client) StreamRun(ctx context.Context, threadID, assistantID string) (*schema.StreamReader[RunEvent], error) {
	payload, err := json.Marshal(map[string]any{"assistant_id": assistantID, "stream": true})
	if err != nil {
		return nil, fmt.Errorf("marshal run request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/runs", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(http.MethodPost, "/runs", resp)
	}

	reader, writer := schema.Pipe[RunEvent](c.streamBuffer)
	go func() {
		defer resp.Body.Close()
		defer writer.Close()
		pumpEvents(resp.Body, writer)
	}()

	return reader, nil
}

func pumpEvents(body io.Reader, writer *schema.StreamWriter[RunEvent]) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventSize)

	var kind string
	var data strings.Builder
	var finished bool

	dispatch := func() (stop bool) {
		defer func() {
			kind = ""
			data.Reset()
		}()
		if kind == "" && data.Len() == 0 {
			return false
		}

		event, done, err := parseEvent(kind, data.String())
		if done {
			finished = true
			return true
		}
		if err != nil {
			writer.Send(RunEvent{}, err)
			return true
		}
		if event.Kind == EventRunCompleted {
			finished = true
		}
		return writer.Send(event, nil)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if dispatch() {
				return
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		writer.Send(RunEvent{}, fmt.Errorf("read run stream: %w", err))
		return
	}
	if dispatch() || finished {
		return
	}
	// The connection closed before the run reached a terminal state.
	writer.Send(RunEvent{}, fmt.Errorf("%w: %w", ErrRunFailed, io.ErrUnexpectedEOF))
}

func parseEvent(kind, data string) (RunEvent, bool, error) {
	switch kind {
	case "done":
		return RunEvent{}, true, nil
	case EventMessageDelta:
		var delta messageDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			return RunEvent{}, false, fmt.Errorf("decode message delta: %w", err)
		}
		return RunEvent{Kind: kind, Content: toBlocks(delta.Delta.Content)}, false, nil
	case "thread.run.failed", "thread.run.cancelled", "thread.run.expired", "thread.run.incomplete":
		var failure runFailure
		_ = json.Unmarshal([]byte(data), &failure)
		if failure.LastError != nil && failure.LastError.Message != "" {
			return RunEvent{}, false, fmt.Errorf("%w: %s: %s", ErrRunFailed, kind, failure.LastError.Message)
		}
		return RunEvent{}, false, fmt.Errorf("%w: %s", ErrRunFailed, kind)
	case "error":
		var apiErr apiError
		if json.Unmarshal([]byte(data), &apiErr) == nil && apiErr.Error.Message != "" {
			return RunEvent{}, false, fmt.Errorf("%w: %s", ErrRunFailed, apiErr.Error.Message)
		}
		return RunEvent{}, false, fmt.Errorf("%w: %s", ErrRunFailed, data)
	}

	if data == "[DONE]" {
		return RunEvent{}, true, nil
	}
	return RunEvent{Kind: kind}, false, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(method, path, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func decodeError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var apiErr apiError
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("%s %s: status=%d: %s", method, path, resp.StatusCode, apiErr.Error.Message)
	}
	return fmt.Errorf("%s %s: status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
}
