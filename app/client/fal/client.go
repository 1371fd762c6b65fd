package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"fanreply/app/config"
	"fanreply/app/domain"
	"fanreply/app/util/clock"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/samber/do"
	"github.com/samber/oops"
)

// Client is the job queue backend: a completion is submitted as a job, its
// status is polled and the output fetched once the job completes.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return New(cfg.Generation.Queue), nil
}

func New(cfg config.QueueConfig) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.Trim(cfg.Endpoint, "/"),
		token:        cfg.Token,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
	}
}

func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt, model string) (string, error) {
	var submitted submitResponse
	err := c.do(ctx, http.MethodPost, "", submitRequest{
		Prompt:       userPrompt,
		SystemPrompt: systemPrompt,
		Model:        model,
	}, &submitted)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	if submitted.RequestID == "" {
		return "", oops.In("fal").With("model", model).Errorf("queue returned no request id")
	}

	requestPath := "/requests/" + submitted.RequestID

	for waited := time.Duration(0); waited < c.pollTimeout; waited += c.pollInterval {
		var status statusResponse
		if err = c.do(ctx, http.MethodGet, requestPath+"/status", nil, &status); err != nil {
			return "", fmt.Errorf("poll job %s: %w", submitted.RequestID, err)
		}

		switch status.Status {
		case statusCompleted:
			return c.fetchResult(ctx, requestPath)
		case statusFailed:
			return "", fmt.Errorf("job %s: %w", submitted.RequestID, domain.ErrGenerationFailed)
		}

		slog.Debug("Waiting for generation job",
			"request_id", submitted.RequestID,
			"status", status.Status,
			"waited", waited,
		)

		if err = clock.Sleep(ctx, c.pollInterval); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("job %s after %s: %w", submitted.RequestID, c.pollTimeout, domain.ErrGenerationTimeout)
}

func (c *Client) fetchResult(ctx context.Context, requestPath string) (string, error) {
	var result resultResponse
	if err := c.do(ctx, http.MethodGet, requestPath, nil, &result); err != nil {
		return "", fmt.Errorf("fetch job result: %w", err)
	}

	if result.Error != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, result.Error)
	}

	output := strings.TrimSpace(result.Output)
	if output == "" {
		return "", fmt.Errorf("%w: empty output", domain.ErrGenerationFailed)
	}

	return output, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return oops.In("fal").With("path", path).Wrapf(err, "failed to marshal request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return oops.In("fal").With("path", path).Wrapf(err, "failed to build request")
	}

	req.Header.Set("Authorization", "Key "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return oops.In("fal").
			With("path", path).
			With("status", resp.StatusCode).
			Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return oops.In("fal").With("path", path).Wrapf(err, "failed to decode response")
	}

	return nil
}
