package dify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	chatMessagesPath = "/chat-messages"

	// streamScanBufferSize bounds a single SSE line. Dify answer deltas are
	// small but agent tool output can produce long lines.
	streamScanBufferSize = 1024 * 1024
)

// StatusError is returned when Dify answers with a non-2xx status. The
// status code is preserved so callers can pass it through.
type StatusError struct {
	Status int
	API    APIError
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dify API returned status %d: %s", e.Status, e.API.Message)
}

// Client talks to the Dify application API. The API key is supplied per call
// because each inbound request carries its own credential.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new Dify HTTP client.
func NewClient(config Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
		// Streams are bounded by the request context, not a client timeout.
		// Compression is disabled so event frames reach us unbuffered.
		streamClient: &http.Client{
			Transport: &http.Transport{
				DisableCompression: true,
			},
		},
	}
}

// ChatMessage sends a blocking chat-messages request.
func (c *Client) ChatMessage(ctx context.Context, apiKey string, req *ChatRequest) (*BlockingResponse, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	req.ResponseMode = ResponseModeBlocking

	resp, err := c.execute(ctx, c.httpClient, apiKey, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var blocking BlockingResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&blocking); decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	return &blocking, nil
}

// ChatMessageStream sends a streaming chat-messages request. The returned
// channel is closed when the upstream stream ends or the context is done.
func (c *Client) ChatMessageStream(ctx context.Context, apiKey string, req *ChatRequest) (<-chan StreamEvent, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	req.ResponseMode = ResponseModeStreaming

	//nolint:bodyclose // Response body is closed in the reader goroutine
	resp, err := c.execute(ctx, c.streamClient, apiKey, req, true)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go c.readStream(ctx, resp, events)

	return events, nil
}

// execute builds and sends the chat-messages request, mapping non-2xx
// statuses to StatusError.
func (c *Client) execute(
	ctx context.Context,
	client *http.Client,
	apiKey string,
	req *ChatRequest,
	stream bool,
) (*http.Response, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+chatMessagesPath,
		bytes.NewReader(reqBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, &StatusError{
			Status: resp.StatusCode,
			API:    ParseAPIError(body),
		}
	}

	return resp, nil
}

// readStream parses the SSE body into events until EOF, error, or context
// cancellation.
func (c *Client) readStream(ctx context.Context, resp *http.Response, events chan<- StreamEvent) {
	defer close(events)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), streamScanBufferSize)

	for scanner.Scan() {
		line := scanner.Text()

		// SSE frames: "data: {...}" lines separated by blank lines.
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var event StreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			c.send(ctx, events, StreamEvent{Err: fmt.Errorf("failed to decode stream event: %w", err)})
			return
		}

		if !c.send(ctx, events, event) {
			return
		}

		if event.Event == EventMessageEnd || event.Event == EventError {
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		c.send(ctx, events, StreamEvent{Err: fmt.Errorf("stream read failed: %w", err)})
	}
}

// send delivers an event unless the context is done first.
func (c *Client) send(ctx context.Context, events chan<- StreamEvent, event StreamEvent) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
