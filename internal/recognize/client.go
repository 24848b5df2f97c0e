package recognize

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"time"
)

// ClientConfig holds settings for the HTTP recognition client.
type ClientConfig struct {
	// Endpoint is the base URL of the model server, e.g.
	// http://localhost:9000.
	Endpoint string
	Timeout  time.Duration
}

// DefaultClientConfig returns client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{Timeout: 10 * time.Minute}
}

// Client talks to a remote recognition server over HTTP. One request
// carries all pages of a task; the server answers with one raw text per
// page in the same order.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient creates a recognition client for the given endpoint.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("recognizer endpoint is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientConfig().Timeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type recognizeRequest struct {
	Instruction string   `json:"instruction"`
	Pages       []string `json:"pages"` // base64-encoded PNG
}

type recognizeResponse struct {
	Texts []string `json:"texts"`
	Error string   `json:"error,omitempty"`
}

// Recognize submits one batched request covering all pages.
func (c *Client) Recognize(ctx context.Context, pages []image.Image, instruction string) ([]string, error) {
	if len(pages) == 0 {
		return nil, errors.New("no pages to recognize")
	}
	if instruction == "" {
		instruction = DefaultInstruction
	}

	req := recognizeRequest{Instruction: instruction, Pages: make([]string, len(pages))}
	for i, page := range pages {
		encoded, err := encodePage(page)
		if err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i, err)
		}
		req.Pages[i] = encoded
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/recognize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("recognition request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read recognition response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognition server returned %s: %s", resp.Status, truncate(payload, 256))
	}

	var out recognizeResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode recognition response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("recognition server error: %s", out.Error)
	}
	if len(out.Texts) != len(pages) {
		return nil, fmt.Errorf("recognition server returned %d texts for %d pages", len(out.Texts), len(pages))
	}
	return out.Texts, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func encodePage(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
