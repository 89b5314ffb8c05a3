// Package ollama implements the HTTP client for Ollama-compatible
// inference hosts. One call, one host: failover across hosts is the
// caller's concern.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// Sentinel errors for inference call failures. HostUnreachable and Timeout
// are transient and should trigger failover; the rest are permanent for
// the job at hand.
var (
	ErrHostUnreachable = errors.New("inference host unreachable")
	ErrTimeout         = errors.New("inference request timeout")
	ErrAuthRejected    = errors.New("inference host rejected credentials")
	ErrInvalidResponse = errors.New("inference host returned invalid response")
	ErrEmptyFile       = errors.New("image file is empty")
)

// Client issues chat-completion requests carrying an image payload.
type Client struct {
	model  string
	token  string
	client *http.Client
}

// NewClient creates a client for the given model. token, when non-empty,
// is attached as a bearer Authorization header on every request. timeout
// bounds each individual call.
func NewClient(model, token string, timeout time.Duration) *Client {
	return &Client{
		model:  model,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Describe sends the image at imagePath with the prompt to host's chat
// endpoint and returns the generated description.
func (c *Client) Describe(ctx context.Context, host, imagePath, prompt string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("reading image %s: %w", imagePath, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyFile, imagePath)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role:    "user",
			Content: prompt,
			Images:  []string{base64.StdEncoding.EncodeToString(data)},
		}},
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	u := strings.TrimRight(host, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrHostUnreachable, resp.StatusCode, strings.TrimSpace(string(text)))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyError(err)
	}

	description, ok := parseDescription(respBody)
	if !ok {
		return "", fmt.Errorf("%w: no message content", ErrInvalidResponse)
	}
	return description, nil
}

// parseDescription extracts message.content, falling back to a permissive
// parse when the body does not match the expected shape exactly.
func parseDescription(body []byte) (string, bool) {
	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err == nil {
		if d := strings.TrimSpace(cr.Message.Content); d != "" {
			return d, true
		}
	}

	var generic map[string]any
	if err := json.Unmarshal(body, &generic); err != nil {
		return "", false
	}
	msg, ok := generic["message"].(map[string]any)
	if !ok {
		return "", false
	}
	content, ok := msg["content"].(string)
	if !ok {
		return "", false
	}
	if d := strings.TrimSpace(content); d != "" {
		return d, true
	}
	return "", false
}

// classifyError maps transport-level errors to sentinel errors.
// Cancellation is passed through as context.Canceled so a shutdown
// mid-request is never mistaken for a host failure.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("request canceled: %w", context.Canceled)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrHostUnreachable, err)
	}

	// url.Error wraps timeouts too; anything left is a connection problem.
	if strings.Contains(err.Error(), "Client.Timeout") {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrHostUnreachable, err)
}
