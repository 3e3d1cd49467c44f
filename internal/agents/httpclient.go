package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"
)

// httpClient is the shared outbound HTTP layer for the REST-backed agents.
// Transient failures (network errors, 429, 5xx) are retried with exponential
// backoff; anything else surfaces immediately.
type httpClient struct {
	client     *http.Client
	maxRetries uint64
	baseDelay  time.Duration
}

func newHTTPClient(timeout time.Duration) *httpClient {
	return &httpClient{
		client:     &http.Client{Timeout: timeout},
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
	}
}

type request struct {
	method  string
	url     string
	headers map[string]string
	query   url.Values
	body    []byte
}

// doJSON performs the request with retries and decodes the response body into
// out when out is non-nil. Returns the final HTTP status code.
func (c *httpClient) doJSON(ctx context.Context, req request, out any) (int, error) {
	var status int
	var body []byte

	err := retry.Do(ctx, retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.baseDelay)), func(ctx context.Context) error {
		var err error
		status, body, err = c.once(ctx, req)
		if err != nil {
			return retry.RetryableError(err)
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			return retry.RetryableError(fmt.Errorf("upstream returned status %d", status))
		}
		return nil
	})
	if err != nil {
		return status, err
	}

	if status < 200 || status >= 300 {
		return status, fmt.Errorf("upstream returned status %d", status)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return status, fmt.Errorf("failed to decode upstream response: %w", err)
		}
	}
	return status, nil
}

func (c *httpClient) once(ctx context.Context, req request) (int, []byte, error) {
	target := req.url
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var reader io.Reader
	if req.body != nil {
		reader = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, reader)
	if err != nil {
		return 0, nil, err
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
