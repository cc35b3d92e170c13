// Package httptransport implements lakesync's request-response transport
// over plain net/http (spec §4.F.1, §6 HTTP surface). Stateless: every
// call is one round trip, retried at most once on a 401 after asking the
// token provider to refresh.
package httptransport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/hyperengineering/lakesync/internal/lakeerr"
	"github.com/hyperengineering/lakesync/internal/model"
	"github.com/hyperengineering/lakesync/internal/transport"
)

// DefaultTimeout bounds a single HTTP round trip, per spec §5's
// "request-response transports SHOULD apply a per-request timeout".
const DefaultTimeout = 30 * time.Second

// Client is the request-response transport. It implements
// transport.Transport, transport.Checkpointer, transport.ActionExecutor,
// and transport.ConnectorDescriber.
type Client struct {
	baseURL   string
	gatewayID string
	token     transport.TokenProvider
	http      *http.Client
}

// New builds a Client against baseURL (e.g. "https://gateway.example.com")
// for the given gateway. token is consulted before every request.
func New(baseURL, gatewayID string, token transport.TokenProvider, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		gatewayID: gatewayID,
		token:     token,
		http:      &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option customizes a Client at construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client, e.g. in tests
// pointed at an httptest.Server.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/sync/%s/%s", c.baseURL, url.PathEscape(c.gatewayID), path)
}

// Push implements transport.Transport.
func (c *Client) Push(ctx context.Context, req model.SyncPush) (model.SyncPushResult, error) {
	var result model.SyncPushResult
	err := c.doJSON(ctx, http.MethodPost, c.endpoint("push"), req, &result)
	return result, err
}

// Pull implements transport.Transport.
func (c *Client) Pull(ctx context.Context, req model.SyncPull) (model.SyncResponse, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatUint(uint64(req.SinceHLC), 10))
	q.Set("clientId", req.ClientID)
	if req.MaxDeltas > 0 {
		q.Set("limit", strconv.Itoa(req.MaxDeltas))
	}
	if req.Source != "" {
		q.Set("source", req.Source)
	}
	var result model.SyncResponse
	err := c.doJSON(ctx, http.MethodGet, c.endpoint("pull")+"?"+q.Encode(), nil, &result)
	return result, err
}

// Checkpoint implements transport.Checkpointer. A 204 No Content response
// is a valid empty checkpoint, surfaced as a nil result.
func (c *Client) Checkpoint(ctx context.Context) (*model.CheckpointResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint("checkpoint"), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out model.CheckpointResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, lakeerr.Wrap(lakeerr.Transport, "decode checkpoint response", err)
	}
	return &out, nil
}

// ExecuteAction implements transport.ActionExecutor.
func (c *Client) ExecuteAction(ctx context.Context, req model.ActionPush) (model.ActionResponse, error) {
	var result model.ActionResponse
	err := c.doJSON(ctx, http.MethodPost, c.endpoint("action"), req, &result)
	return result, err
}

// DescribeActions implements transport.ConnectorDescriber.
func (c *Client) DescribeActions(ctx context.Context) (model.DescribeActionsResult, error) {
	var result model.DescribeActionsResult
	err := c.doJSON(ctx, http.MethodGet, c.endpoint("actions"), nil, &result)
	return result, err
}

// ListConnectorTypes implements transport.ConnectorDescriber.
func (c *Client) ListConnectorTypes(ctx context.Context) ([]model.ConnectorDescriptor, error) {
	var result []model.ConnectorDescriptor
	err := c.doJSON(ctx, http.MethodGet, c.endpoint("connectors"), nil, &result)
	return result, err
}

// doJSON performs a round trip with a JSON body (if body is non-nil) and
// decodes a JSON response into out (if out is non-nil).
func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	resp, err := c.do(ctx, method, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return lakeerr.Wrap(lakeerr.Transport, "decode response", err)
	}
	return nil
}

// do performs one request, refreshing the token and retrying exactly once
// on a 401 (spec §4.F.1). The caller owns closing the returned response's
// body.
func (c *Client) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	resp, err := c.attempt(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	retried, err := c.attempt(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	return retried, nil
}

func (c *Client) attempt(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, lakeerr.Wrap(lakeerr.Transport, "encode request", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, lakeerr.Wrap(lakeerr.Transport, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, lakeerr.Wrap(lakeerr.Auth, "obtain auth token", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, lakeerr.Wrap(lakeerr.Transport, method+" "+url, err)
	}
	return resp, nil
}

// checkStatus converts any non-2xx response into a TRANSPORT_ERROR,
// including the unauthorized-after-retry case (spec §4.F.1: "any
// subsequent 401 surfaces as TRANSPORT_ERROR").
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return lakeerr.New(lakeerr.Transport, fmt.Sprintf("%s %s: %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, detail))
}
