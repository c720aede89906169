// Package upstream streams text generations from an Ollama-compatible
// HTTP endpoint. The relay treats it as an opaque chunk producer.
package upstream

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

	"carechat/internal/config"
)

// maxLineBytes bounds one NDJSON line from the generator.
const maxLineBytes = 1 << 20

// Generator produces one streamed reply per prompt, invoking fn for
// each chunk in production order. A clean return means end-of-stream.
type Generator interface {
	Stream(ctx context.Context, prompt string, fn func(chunk string) error) error
}

// Client calls the generate endpoint with stream=true and decodes the
// newline-delimited JSON chunk frames it produces.
type Client struct {
	httpClient *http.Client
	url        string
	model      string
	timeout    time.Duration
}

// New builds a Client from upstream configuration.
func New(cfg config.UpstreamConfig) *Client {
	return &Client{
		httpClient: &http.Client{},
		url:        strings.TrimRight(cfg.BaseURL, "/") + cfg.Path,
		model:      cfg.Model,
		timeout:    cfg.Timeout(),
	}
}

type generateRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Stream opens the generation request and forwards each chunk to fn.
// The overall call is bounded by the configured timeout; fn returning
// an error aborts the read and is returned unchanged.
func (c *Client) Stream(ctx context.Context, prompt string, fn func(chunk string) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: true})
	if err != nil {
		return fmt.Errorf("encode generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("generator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode generator chunk: %w", err)
		}
		if chunk.Response != "" {
			if err := fn(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read generator stream: %w", err)
	}
	// EOF without a done frame still counts as a clean end.
	return nil
}
