// Package masterclient implements the retry-queued RPC client a node uses
// to talk to the master (§4.3 of the core spec): calls to one master
// endpoint are serialized into a FIFO queue, only the head ever executes,
// and a transport failure classified as "refused/unavailable" retries the
// same head call on a fixed backoff schedule instead of failing it.
//
// The call/response shape mirrors the broker client's single outstanding
// request style (one goroutine draining a queue, callers blocked on a
// per-call channel) but adds the backoff/requeue behavior the master
// protocol requires and the broker's always-on TCP connection does not.
package masterclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// backoffSchedule is the fixed retry delay sequence (ms) from §4.3,
// saturating at the last entry and resetting to index 0 after any
// success.
var backoffSchedule = []time.Duration{
	1 * time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond,
	4 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond, 8 * time.Millisecond,
	8 * time.Millisecond, 8 * time.Millisecond, 8 * time.Millisecond, 16 * time.Millisecond,
	32 * time.Millisecond, 64 * time.Millisecond, 128 * time.Millisecond, 256 * time.Millisecond,
	512 * time.Millisecond, 1000 * time.Millisecond,
}

// Response is the master's `[statusCode, statusMessage, value]` 3-tuple.
// StatusCode == 1 means success per §6.
type Response struct {
	StatusCode    int
	StatusMessage string
	Value         json.RawMessage
}

// Succeeded reports whether the master reported statusCode == 1.
func (r Response) Succeeded() bool { return r.StatusCode == 1 }

// ErrDefinitive wraps a non-retryable failure (HTTP transport error outside
// the retry class, or a malformed request or response body). An
// application-level statusCode != 1 is not an error here: Call returns it
// as a Response with a nil error.
var ErrDefinitive = errors.New("masterclient: definitive failure")

// ErrShuttingDown is returned by Call (and delivered to any call still
// queued) once Stop has been invoked (§4.3: "shutdown cancels pending
// master RPC calls by rejecting their futures").
var ErrShuttingDown = errors.New("masterclient: shutting down")

type call struct {
	ctx      context.Context
	method   string
	params   interface{}
	resultCh chan callResult
	attempts int
	reqID    string // sent as X-Request-Id on every retry attempt of one call
}

type callResult struct {
	resp Response
	err  error
}

// Client serializes RPC calls to a single master endpoint. Zero value is
// not usable; construct with New.
type Client struct {
	endpoint string
	httpc    *http.Client

	// sleep is swappable for deterministic backoff tests. now is set by New
	// but not read by the client.
	now   func() time.Time
	sleep func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	queue   []*call
	running bool
	backoff int // index into backoffSchedule, reset to 0 on success
	stopped bool
}

// Stop rejects all pending and future calls (§4.3 "Cancellation: shutdown
// cancels pending master RPC calls by rejecting their futures").
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, cl := range pending {
		cl.resultCh <- callResult{err: ErrShuttingDown}
	}
}

// New creates a client targeting the given master endpoint URL (scheme +
// host[:port], e.g. "http://localhost:11311").
func New(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: 5 * time.Second},
		now:      time.Now,
		sleep: func(d time.Duration) <-chan time.Time {
			return time.After(d)
		},
	}
}

// Call enqueues method/params and blocks until the master responds, the
// call is canceled via ctx, or the client is stopped. Success always
// resets the backoff index to 0 per §4.3.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (Response, error) {
	cl := &call{
		ctx:      ctx,
		method:   method,
		params:   params,
		resultCh: make(chan callResult, 1),
		reqID:    uuid.NewString(),
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return Response{}, ErrShuttingDown
	}
	c.queue = append(c.queue, cl)
	startRunner := !c.running
	if startRunner {
		c.running = true
	}
	c.mu.Unlock()

	if startRunner {
		go c.run()
	}

	select {
	case res := <-cl.resultCh:
		return res.resp, res.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// run drains the queue, executing only the head call at a time. It exits
// when the queue empties.
func (c *Client) run() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 || c.stopped {
			c.running = false
			c.mu.Unlock()
			return
		}
		head := c.queue[0]
		c.mu.Unlock()

		resp, err := c.invoke(head.ctx, head.reqID, head.method, head.params)
		if err != nil && isRetryable(err) {
			head.attempts++
			c.mu.Lock()
			delay := backoffSchedule[minInt(c.backoff, len(backoffSchedule)-1)]
			c.backoff++
			c.mu.Unlock()

			select {
			case <-c.sleep(delay):
			case <-head.ctx.Done():
				c.mu.Lock()
				c.queue = c.queue[1:]
				c.mu.Unlock()
				head.resultCh <- callResult{err: head.ctx.Err()}
			}
			continue // retry same head, not shifted
		}

		c.mu.Lock()
		c.queue = c.queue[1:]
		if err == nil {
			c.backoff = 0
		}
		c.mu.Unlock()

		head.resultCh <- callResult{resp: resp, err: err}
	}
}

// invoke performs one HTTP round trip encoding the call as a JSON array
// `[method, params]` and decoding the response as the 3-tuple. reqID is
// sent as a header so every retry of the same call can be correlated on
// the master side.
func (c *Client) invoke(ctx context.Context, reqID, method string, params interface{}) (Response, error) {
	body, err := json.Marshal([]interface{}{method, params})
	if err != nil {
		return Response{}, fmt.Errorf("%w: encoding request: %v", ErrDefinitive, err)
	}

	c.mu.Lock()
	endpoint := c.endpoint
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%w: building request: %v", ErrDefinitive, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", reqID)

	httpResp, err := c.httpc.Do(req)
	if err != nil {
		return Response{}, classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	var tuple [3]json.RawMessage
	dec := json.NewDecoder(httpResp.Body)
	if err := dec.Decode(&tuple); err != nil {
		return Response{}, fmt.Errorf("%w: decoding response tuple: %v", ErrDefinitive, err)
	}

	var code int
	if err := json.Unmarshal(tuple[0], &code); err != nil {
		return Response{}, fmt.Errorf("%w: decoding status code: %v", ErrDefinitive, err)
	}
	var msg string
	if err := json.Unmarshal(tuple[1], &msg); err != nil {
		return Response{}, fmt.Errorf("%w: decoding status message: %v", ErrDefinitive, err)
	}

	return Response{StatusCode: code, StatusMessage: msg, Value: tuple[2]}, nil
}

// retryableErr marks an error as belonging to the "transport refused /
// endpoint unavailable" class (§4.3): the head call is retried in place,
// not shifted off the queue.
type retryableErr struct{ err error }

func (r retryableErr) Error() string { return r.err.Error() }
func (r retryableErr) Unwrap() error { return r.err }

func isRetryable(err error) bool {
	var re retryableErr
	return errors.As(err, &re)
}

// classifyTransportError decides whether an *http.Client transport error
// belongs to the retryable class per the decision recorded in SPEC_FULL.md:
// ECONNREFUSED, DNS resolution failures, and a round-trip deadline timeout
// are retried; anything else is definitive.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return retryableErr{err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return retryableErr{err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if sysErr, ok := opErr.Err.(interface{ Timeout() bool }); ok && sysErr.Timeout() {
			return retryableErr{err}
		}
		if isConnRefused(opErr) {
			return retryableErr{err}
		}
	}
	return fmt.Errorf("%w: %v", ErrDefinitive, err)
}

func isConnRefused(opErr *net.OpError) bool {
	return errors.Is(opErr.Err, syscall.ECONNREFUSED) || strings.Contains(opErr.Error(), "connection refused")
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
