// Package chatclient talks to the remote chat endpoint: POST /chat with a
// JSON message and POST /chat/audio with a multipart recording. Both return
// {"response": "..."}.
//
// The client never retries. A failed call is reported once and the caller
// decides what the user sees.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/nadzzz/audipro/internal/message"
)

// ErrNetwork marks failures to reach the endpoint at all (DNS, refused
// connection, timeout).
var ErrNetwork = errors.New("network failure")

// RemoteError is returned when the endpoint answers with a non-2xx status.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("request failed with status code %d", e.StatusCode)
}

// Client is an HTTP client for the chat endpoints.
type Client struct {
	endpoint string
	client   *http.Client
}

// New creates a client for the given base URL (e.g., "http://localhost:5000").
// A zero timeout means no client-side deadline.
func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// Chat sends a text message exactly as given and returns the reply.
func (c *Client) Chat(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(message.ChatRequest{Message: text})
	if err != nil {
		return "", fmt.Errorf("marshalling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// ChatAudio uploads a recording as the multipart field "audio" and returns
// the reply.
func (c *Client) ChatAudio(ctx context.Context, p message.Payload) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fileName := p.FileName
	if fileName == "" {
		fileName = "audio" + message.ExtFromContentType(p.ContentType)
	}
	contentType := p.ContentType
	if contentType == "" {
		contentType = message.DefaultContentType
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, message.AudioField, fileName))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(p.Data); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/audio", body)
	if err != nil {
		return "", fmt.Errorf("creating audio request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req)
}

func (c *Client) do(req *http.Request) (string, error) {
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		slog.Debug("chat endpoint returned error", "path", req.URL.Path, "status", resp.StatusCode)
		return "", &RemoteError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out message.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}

	slog.Debug("chat endpoint replied", "path", req.URL.Path, "duration", time.Since(start), "response_length", len(out.Response))
	return out.Response, nil
}
