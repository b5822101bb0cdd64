// Package panel provides an HTTP client for the game-server control panel
// application API.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultTimeout = 10 * time.Second

	// The panel rejects requests without its vendored Accept header.
	acceptHeader = "Application/vnd.pterodactyl.v1+json"
)

// ErrAccountNotFound is returned when no panel account matches the email.
var ErrAccountNotFound = errors.New("panel account not found")

// Config holds panel client configuration.
type Config struct {
	URL     string        // base URL of the panel (e.g. https://panel.example.com)
	Token   string        // application API key
	Timeout time.Duration // request timeout
}

// Client talks to the panel application API.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new panel client.
// Returns error if required config is missing.
func NewClient(config Config) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("panel client: url is required")
	}
	if config.Token == "" {
		return nil, errors.New("panel client: token is required")
	}
	config.URL = strings.TrimRight(config.URL, "/")
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Account is a panel user account.
type Account struct {
	ID    int64
	Email string
}

type userListResponse struct {
	Data []struct {
		Attributes struct {
			ID    int64  `json:"id"`
			Email string `json:"email"`
		} `json:"attributes"`
	} `json:"data"`
	Meta struct {
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	} `json:"meta"`
}

type userDetailResponse struct {
	Attributes struct {
		Relationships struct {
			Servers struct {
				Data []struct {
					Attributes struct {
						ID int64 `json:"id"`
					} `json:"attributes"`
				} `json:"data"`
			} `json:"servers"`
		} `json:"relationships"`
	} `json:"attributes"`
}

// FindAccountByEmail returns the first account matching the email, or
// ErrAccountNotFound when the filter matches nothing.
func (c *Client) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	query := url.Values{"filter[email]": {email}}

	var out userListResponse
	if err := c.get(ctx, "/api/application/users", query, &out); err != nil {
		return nil, err
	}

	if out.Meta.Pagination.Total == 0 || len(out.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, email)
	}

	return &Account{
		ID:    out.Data[0].Attributes.ID,
		Email: out.Data[0].Attributes.Email,
	}, nil
}

// ListServices returns the ids of all services managed by the account.
func (c *Client) ListServices(ctx context.Context, accountID int64) ([]int64, error) {
	query := url.Values{"include": {"servers"}}

	var out userDetailResponse
	path := fmt.Sprintf("/api/application/users/%d", accountID)
	if err := c.get(ctx, path, query, &out); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(out.Attributes.Relationships.Servers.Data))
	for _, server := range out.Attributes.Relationships.Servers.Data {
		ids = append(ids, server.Attributes.ID)
	}
	return ids, nil
}

// Suspend suspends a single service.
func (c *Client) Suspend(ctx context.Context, serviceID int64) error {
	return c.post(ctx, fmt.Sprintf("/api/application/servers/%d/suspend", serviceID))
}

// Unsuspend lifts the suspension of a single service.
func (c *Client) Unsuspend(ctx context.Context, serviceID int64) error {
	return c.post(ctx, fmt.Sprintf("/api/application/servers/%d/unsuspend", serviceID))
}

// SuspendAllByEmail suspends every service of the account matching the
// email. Per-service calls run concurrently and fail independently; the
// joined error carries every failure.
func (c *Client) SuspendAllByEmail(ctx context.Context, email string) error {
	return c.forEachServiceByEmail(ctx, email, c.Suspend)
}

// UnsuspendAllByEmail unsuspends every service of the account matching the
// email.
func (c *Client) UnsuspendAllByEmail(ctx context.Context, email string) error {
	return c.forEachServiceByEmail(ctx, email, c.Unsuspend)
}

func (c *Client) forEachServiceByEmail(ctx context.Context, email string, op func(context.Context, int64) error) error {
	account, err := c.FindAccountByEmail(ctx, email)
	if err != nil {
		return err
	}

	services, err := c.ListServices(ctx, account.ID)
	if err != nil {
		return err
	}
	if len(services) == 0 {
		return fmt.Errorf("no services found for account %d", account.ID)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(services))
	for i, serviceID := range services {
		wg.Add(1)
		go func(i int, serviceID int64) {
			defer wg.Done()
			errs[i] = op(ctx, serviceID)
		}(i, serviceID)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.config.URL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL+path, strings.NewReader("{}"))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return err
	}

	slog.Debug("panel call succeeded", "path", path, "status", resp.StatusCode)
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Content-Type", "application/json")
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "invalid or expired API key",
		}

	case resp.StatusCode == http.StatusNotFound:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "resource not found",
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: "rate limited",
		}

	case resp.StatusCode >= 500:
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: "server error",
		}

	default:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "unexpected status",
		}
	}
}

// PermanentError indicates a permanent error that should not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("panel error %d: %s", e.Code, e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary error that can be retried.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("panel error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("panel error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }
