package fanvue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fanreply/app/config"
	"fanreply/app/domain"
	"fanreply/app/util/clock"
	"fanreply/app/util/ratelimit"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/do"
	"github.com/samber/oops"
)

const (
	apiKeyHeader     = "X-Fanvue-API-Key"
	apiVersionHeader = "X-Fanvue-API-Version"
	maxErrorBody     = 512
)

type Options struct {
	BaseURL               string
	APIVersion            string
	Timeout               time.Duration
	Cooldown              time.Duration
	SubscriberPageRetries int
	MessageAttempts       int
	HTTPClient            *http.Client
}

// Client talks to the Fanvue REST API on behalf of any account; the account's
// API key is passed per call.
type Client struct {
	baseURL               string
	apiVersion            string
	httpClient            *http.Client
	cooldown              time.Duration
	subscriberPageRetries int
	messageAttempts       int
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return New(Options{
		BaseURL:               cfg.Fanvue.BaseURL,
		APIVersion:            cfg.Fanvue.APIVersion,
		Timeout:               cfg.Fanvue.Timeout,
		Cooldown:              cfg.Monitor.RateLimitCooldown,
		SubscriberPageRetries: cfg.Fanvue.SubscriberPageRetries,
		MessageAttempts:       cfg.Fanvue.MessageAttempts,
	}), nil
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:               strings.TrimRight(opts.BaseURL, "/"),
		apiVersion:            opts.APIVersion,
		httpClient:            httpClient,
		cooldown:              opts.Cooldown,
		subscriberPageRetries: max(opts.SubscriberPageRetries, 1),
		messageAttempts:       max(opts.MessageAttempts, 1),
	}
}

func (c *Client) GetCurrentUser(ctx context.Context, account domain.Account) (domain.Operator, error) {
	var resp userResponse
	if err := c.do(ctx, account, http.MethodGet, "/users/me", nil, nil, &resp); err != nil {
		return domain.Operator{}, fmt.Errorf("get current user: %w", err)
	}

	if resp.UUID == "" {
		return domain.Operator{}, oops.In("fanvue").With("account_id", account.ID).Errorf("current user has no uuid")
	}

	return domain.Operator{
		ID:     resp.UUID,
		Handle: resp.Handle,
	}, nil
}

// ListSubscribers walks every page. A rate limited page is retried after the
// cooldown without restarting from the first page.
func (c *Client) ListSubscribers(ctx context.Context, account domain.Account) ([]domain.Subscriber, error) {
	var result []domain.Subscriber

	page := 1
	retries := 0
	for {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))

		var resp subscribersResponse
		err := c.do(ctx, account, http.MethodGet, "/subscribers", query, nil, &resp)
		if errors.Is(err, domain.ErrRateLimited) {
			retries++
			if retries > c.subscriberPageRetries {
				return nil, fmt.Errorf("list subscribers page %d: %w", page, err)
			}

			slog.Warn("Rate limit hit listing subscribers, cooling down",
				"account_id", account.ID,
				"page", page,
				"retry", retries,
				"cooldown", c.cooldown,
			)

			if err = clock.Sleep(ctx, c.cooldown); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list subscribers page %d: %w", page, err)
		}

		retries = 0
		for _, item := range resp.Data {
			result = append(result, item.toDomain())
		}

		if !resp.Pagination.HasMore {
			break
		}
		page++
	}

	return result, nil
}

// ListMessages returns the newest limit messages of the chat in whatever order
// the API returns them.
func (c *Client) ListMessages(ctx context.Context, account domain.Account, subscriberID string, limit int) ([]domain.Message, error) {
	query := url.Values{}
	query.Set("page", "1")
	query.Set("limit", strconv.Itoa(limit))

	var resp messagesResponse
	err := ratelimit.Do(ctx, c.messageAttempts, c.cooldown, "list messages", func(ctx context.Context) error {
		return c.do(ctx, account, http.MethodGet, "/chats/"+url.PathEscape(subscriberID)+"/messages", query, nil, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", subscriberID, err)
	}

	result := make([]domain.Message, 0, len(resp.Data))
	for _, item := range resp.Data {
		result = append(result, item.toDomain())
	}

	return result, nil
}

// SendMessage makes a single attempt; retry policy belongs to the caller.
func (c *Client) SendMessage(ctx context.Context, account domain.Account, subscriberID, text string) error {
	body := sendRequest{Text: text}
	if err := c.do(ctx, account, http.MethodPost, "/chats/"+url.PathEscape(subscriberID)+"/message", nil, body, nil); err != nil {
		return fmt.Errorf("send message to %s: %w", subscriberID, err)
	}

	return nil
}

func (c *Client) do(
	ctx context.Context,
	account domain.Account,
	method, path string,
	query url.Values,
	body any,
	out any,
) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return oops.In("fanvue").With("path", path).Wrapf(err, "failed to marshal request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return oops.In("fanvue").With("path", path).Wrapf(err, "failed to build request")
	}

	req.Header.Set(apiKeyHeader, account.APIKey)
	req.Header.Set(apiVersionHeader, c.apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.PermanentTransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.PermanentTransportError{
			Op:         method + " " + path,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(snippet))),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return oops.In("fanvue").With("path", path).Wrapf(err, "failed to decode response")
	}

	return nil
}
