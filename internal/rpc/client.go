package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/soroflow/streamwatch/pkg/config"
)

const (
	methodGetLatestLedger = "getLatestLedger"
	methodGetEvents       = "getEvents"

	defaultRequestTimeout = 30 * time.Second
)

// Client talks JSON-RPC 2.0 to a Soroban RPC node over HTTP. Transport-level
// failures are retried with exponential backoff when a retry config is set;
// otherwise each call is attempted exactly once and the caller's own retry
// policy applies.
type Client struct {
	endpoint string
	http     *http.Client
	retry    *config.RetryConfig
}

// NewClient creates a new RPC client for the given Soroban RPC endpoint.
func NewClient(endpoint string, retry *config.RetryConfig) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: defaultRequestTimeout},
		retry:    retry,
	}
}

// Close releases idle connections held by the underlying HTTP client.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// GetLatestLedger returns the sequence number of the latest ledger known to
// the node.
func (c *Client) GetLatestLedger(ctx context.Context) (uint64, error) {
	var resp getLatestLedgerResponse
	if err := c.call(ctx, methodGetLatestLedger, nil, &resp); err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, resp.Error
	}

	return resp.Result.Sequence, nil
}

// GetEvents fetches contract events starting at startLedger, restricted to
// the given contract IDs, returning at most limit events.
func (c *Client) GetEvents(ctx context.Context, startLedger uint64, contractIDs []string, limit int) (*EventsResult, error) {
	params := getEventsParams{
		StartLedger: startLedger,
		Filters: []EventFilter{
			{Type: "contract", ContractIDs: contractIDs},
		},
		Pagination: PaginationOptions{Limit: limit},
	}

	var resp getEventsResponse
	if err := c.call(ctx, methodGetEvents, params, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	return &EventsResult{
		Events:       resp.Result.Events,
		LatestLedger: resp.Result.LatestLedger,
	}, nil
}

// call performs a single JSON-RPC method invocation, with transport-level
// retries if the client was configured with a retry policy.
func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	return retryWithBackoff(ctx, c.retry, method, func() error {
		return c.doCall(ctx, method, params, result)
	})
}

func (c *Client) doCall(ctx context.Context, method string, params, result interface{}) error {
	start := time.Now()
	RPCMethodInc(method)

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s request", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, "failed to create %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		RPCMethodError(method, "transport")
		return errors.Wrapf(err, "failed to execute %s request", method)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		RPCMethodError(method, "http")
		return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		RPCMethodError(method, "read")
		return errors.Wrapf(err, "failed to read %s response", method)
	}

	if err := json.Unmarshal(body, result); err != nil {
		RPCMethodError(method, "decode")
		return errors.Wrapf(err, "failed to unmarshal %s response", method)
	}

	RPCMethodDuration(method, time.Since(start))

	return nil
}
