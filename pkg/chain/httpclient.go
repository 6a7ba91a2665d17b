package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HTTPClient is a Gateway over the node's JSON RPC with circuit-breaker and
// token-bucket rate limiting.
type HTTPClient struct {
	endpoints []string
	client    *http.Client

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	Endpoints       []string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// NewHTTPWithOpts creates a new HTTPClient with the given options.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	}

	c := &HTTPClient{
		endpoints:        dedup(o.Endpoints),
		client:           client,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c
}

func dedup(ss []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(ss))
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}

func (c *HTTPClient) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= c.refillEvery {
		if atomic.LoadInt64(&c.tokens) < c.maxTokens {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

func (c *HTTPClient) acquire() {
	for {
		c.refill()
		if atomic.LoadInt64(&c.tokens) > 0 {
			atomic.AddInt64(&c.tokens, -1)
			return
		}
		time.Sleep(c.refillEvery / 2)
	}
}

func (c *HTTPClient) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

func (c *HTTPClient) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
	}
}

// errNotFound marks a 404 so callers can map it to their own sentinel.
var errNotFound = fmt.Errorf("not found")

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	if len(c.endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}

	var lastErr error
	for i := 0; i < len(c.endpoints); i++ {
		ep := c.endpoints[i%len(c.endpoints)]
		if c.isOpen(ep) {
			continue
		}

		c.acquire()

		var body *bytes.Reader
		if payload != nil {
			b, mErr := json.Marshal(payload)
			if mErr != nil {
				return mErr
			}
			body = bytes.NewReader(b)
		} else {
			body = bytes.NewReader(nil)
		}

		req, reqErr := http.NewRequestWithContext(ctx, method, ep+path, body)
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.noteFailure(ep)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return errNotFound
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server %d", resp.StatusCode)
			c.noteFailure(ep)
			resp.Body.Close()
			continue
		}
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("http %d", resp.StatusCode)
			resp.Body.Close()
			continue
		}

		if out != nil {
			rawBody, err := io.ReadAll(resp.Body)
			if err != nil {
				resp.Body.Close()
				lastErr = err
				continue
			}

			slog.Debug("chain rpc", "path", path, "len", len(rawBody))

			if err := json.Unmarshal(rawBody, out); err != nil {
				resp.Body.Close()
				lastErr = fmt.Errorf("json unmarshal: %w (body: %s)", err, string(rawBody[:min(200, len(rawBody))]))
				continue
			}
		}

		resp.Body.Close()
		return nil
	}

	return lastErr
}

// IsContractLive reports whether the poll contract answers its liveness probe.
func (c *HTTPClient) IsContractLive(ctx context.Context) (bool, error) {
	var resp struct {
		Live bool `json:"live"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/contract/live", nil, &resp); err != nil {
		return false, err
	}
	return resp.Live, nil
}

// BuildRegistrationIntent asks the node to encode a poll-registration payload
// for an external wallet to sign and broadcast.
func (c *HTTPClient) BuildRegistrationIntent(ctx context.Context, params RegistrationParams) (*WriteIntent, error) {
	var intent WriteIntent
	if err := c.doJSON(ctx, http.MethodPost, "/v1/intent/register-poll", params, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// BuildVoteIntent asks the node to encode a vote payload for an external
// wallet to sign and broadcast.
func (c *HTTPClient) BuildVoteIntent(ctx context.Context, chainPollID uint64, optionIndex int) (*WriteIntent, error) {
	payload := struct {
		ChainPollID uint64 `json:"chain_poll_id"`
		OptionIndex int    `json:"option_index"`
	}{ChainPollID: chainPollID, OptionIndex: optionIndex}

	var intent WriteIntent
	if err := c.doJSON(ctx, http.MethodPost, "/v1/intent/vote", payload, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetPoll returns the observable on-chain state of one poll.
func (c *HTTPClient) GetPoll(ctx context.Context, chainPollID uint64) (*PollInfo, error) {
	var info PollInfo
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/poll/%d", chainPollID), nil, &info)
	if err == errNotFound {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// GetTransactionHeight returns the height of the block that includes the
// transaction, or ErrTxPending while it is unconfirmed.
func (c *HTTPClient) GetTransactionHeight(ctx context.Context, txHash string) (uint64, error) {
	var resp struct {
		Height   uint64 `json:"height"`
		Included bool   `json:"included"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v1/tx/"+txHash, nil, &resp)
	if err == errNotFound {
		return 0, ErrTxPending
	}
	if err != nil {
		return 0, err
	}
	if !resp.Included {
		return 0, ErrTxPending
	}
	return resp.Height, nil
}

// GetChainHeadHeight returns the current chain height.
func (c *HTTPClient) GetChainHeadHeight(ctx context.Context) (uint64, error) {
	var resp struct {
		Height uint64 `json:"height"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/head", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Height, nil
}
