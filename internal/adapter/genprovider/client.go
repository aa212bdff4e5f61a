// Package genprovider provides an HTTP client for a media-generation
// provider's task API.
//
// The provider exposes two endpoints:
//
//	POST {base}/v1/tasks          submit a task, returns {"task_id": "..."}
//	GET  {base}/v1/tasks/{id}     task state
package genprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Strob0t/SiteKeeper/internal/adapter/otel"
	"github.com/Strob0t/SiteKeeper/internal/port/genprovider"
	"github.com/Strob0t/SiteKeeper/internal/resilience"
)

// Kind is the registry name of this adapter.
const Kind = "http"

const (
	maxResponseBytes      = 1 << 20
	defaultMaxFailures    = 5
	defaultBreakerTimeout = 30 * time.Second
)

func init() {
	genprovider.Register(Kind, func(cfg map[string]string) (genprovider.Provider, error) {
		if cfg["url"] == "" {
			return nil, errors.New("genprovider http: url is required")
		}
		timeout := 30 * time.Second
		if raw := cfg["timeout"]; raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("genprovider http: timeout: %w", err)
			}
			timeout = d
		}
		name := cfg["name"]
		if name == "" {
			name = Kind
		}
		return NewClient(name, cfg["url"], cfg["api_key"], timeout), nil
	})
}

// Client talks to a generation provider over HTTP.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	keySource  func() string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ genprovider.Provider = (*Client)(nil)

// NewClient creates a new provider client.
func NewClient(name, baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otel.Transport(nil),
		},
		breaker: resilience.NewBreaker(defaultMaxFailures, defaultBreakerTimeout),
	}
}

// SetBreaker replaces the circuit breaker guarding all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetKeySource makes every request read its API key from fn, so a rotated
// key takes effect without rebuilding the client. An empty result falls back
// to the static key.
func (c *Client) SetKeySource(fn func() string) {
	c.keySource = fn
}

func (c *Client) key() string {
	if c.keySource != nil {
		if k := c.keySource(); k != "" {
			return k
		}
	}
	return c.apiKey
}

// Name returns the provider name recorded on jobs.
func (c *Client) Name() string {
	return c.name
}

// Submit hands a generation request to the provider and returns its task id.
func (c *Client) Submit(ctx context.Context, req genprovider.SubmitRequest) (string, error) {
	ctx, span := otel.StartProviderSpan(ctx, c.name, "submit")
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal submit: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/tasks", body)
	if err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("unmarshal submit: %w", err)
	}
	if out.TaskID == "" {
		return "", errors.New("submit task: provider returned no task id")
	}
	return out.TaskID, nil
}

// Status returns the provider's view of a task. An unknown task yields
// genprovider.ErrTaskNotFound and does not count against the breaker.
func (c *Client) Status(ctx context.Context, taskID string) (*genprovider.Result, error) {
	ctx, span := otel.StartProviderSpan(ctx, c.name, "status")
	defer span.End()

	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("task status %s: %w", taskID, err)
	}

	var r genprovider.Result
	if err := json.Unmarshal(resp, &r); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	if r.TaskID == "" {
		r.TaskID = taskID
	}
	switch r.State {
	case genprovider.StateQueued, genprovider.StateRunning, genprovider.StateSucceeded, genprovider.StateFailed:
	default:
		return nil, fmt.Errorf("task status %s: unknown state %q", taskID, r.State)
	}
	return &r, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}

		req.Header.Set("Content-Type", "application/json")
		if k := c.key(); k != "" {
			req.Header.Set("Authorization", "Bearer "+k)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return resilience.Permanent(genprovider.ErrTaskNotFound)
		case resp.StatusCode >= 500:
			return fmt.Errorf("provider API error %d: %s", resp.StatusCode, string(data))
		case resp.StatusCode >= 400:
			return resilience.Permanent(fmt.Errorf("provider API error %d: %s", resp.StatusCode, string(data)))
		}

		result = data
		return nil
	}

	if err := c.breaker.Execute(call); err != nil {
		return nil, err
	}
	return result, nil
}
