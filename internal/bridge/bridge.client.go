// Package bridge talks to the browser automation bridge that holds the live
// messaging session. One bridge process serves one authenticated session; the
// dispatcher treats it as the delivery channel and never reaches the messaging
// provider directly.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/apysky/broadcast-scheduler/pkg/logger"
)

type ErrorKind string

const (
	// ErrorKindTransient covers timeouts, connection errors and bridge-side
	// hiccups that a retry may resolve.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPermanent covers rejections that retrying cannot fix, such as
	// a recipient unknown to the messaging provider.
	ErrorKindPermanent ErrorKind = "permanent"
)

type SendRequest struct {
	ScheduleID string `json:"schedule_id"`
	Recipient  string `json:"recipient"`
	Body       string `json:"body"`
	Media      string `json:"media,omitempty"`
	MediaType  string `json:"media_type,omitempty"`
	Caption    string `json:"caption,omitempty"`
}

// SendResult is the classified outcome of a single delivery attempt. Success
// true means the bridge confirmed the message left the session.
type SendResult struct {
	Success   bool
	ErrorKind ErrorKind
	Reason    string
}

type sendResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}

type Config struct {
	URL     string
	Timeout time.Duration
}

type Client struct {
	url     string
	timeout time.Duration
	client  *fasthttp.Client
}

func NewClient(config Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:     config.URL,
		timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

// Send performs exactly one delivery attempt. Retry policy lives in the
// dispatcher; the client only classifies what happened. A non-nil error is
// returned only for marshaling bugs, never for delivery failures.
func (c *Client) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	startTime := time.Now()
	respBody, statusCode, err := c.doRequest(ctx, "POST", "/api/v1/messages/send", reqBody)
	latency := time.Since(startTime).Milliseconds()

	if err != nil {
		logger.Warn("bridge request failed", "error", err, "recipient", req.Recipient, "latency_ms", latency)
		return &SendResult{ErrorKind: ErrorKindTransient, Reason: err.Error()}, nil
	}

	if statusCode >= fasthttp.StatusInternalServerError {
		return &SendResult{
			ErrorKind: ErrorKindTransient,
			Reason:    fmt.Sprintf("bridge returned status %d", statusCode),
		}, nil
	}
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusAccepted {
		return &SendResult{
			ErrorKind: ErrorKindPermanent,
			Reason:    fmt.Sprintf("bridge rejected request with status %d: %s", statusCode, respBody),
		}, nil
	}

	var resp sendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return &SendResult{ErrorKind: ErrorKindTransient, Reason: "unreadable bridge response"}, nil
	}

	if resp.Status == "sent" {
		logger.Debug("message sent via bridge", "schedule_id", req.ScheduleID, "recipient", req.Recipient, "latency_ms", latency)
		return &SendResult{Success: true}, nil
	}

	kind := ErrorKindPermanent
	if resp.Retryable {
		kind = ErrorKindTransient
	}
	reason := resp.ErrorMsg
	if reason == "" {
		reason = resp.ErrorCode
	}
	return &SendResult{ErrorKind: kind, Reason: reason}, nil
}

// Ready reports whether the bridge holds an authenticated session. The
// dispatcher skips a whole tick when the bridge is not ready, leaving due
// schedules pending for the next poll.
func (c *Client) Ready(ctx context.Context) bool {
	respBody, statusCode, err := c.doRequest(ctx, "GET", "/health", nil)
	if err != nil || statusCode != fasthttp.StatusOK {
		return false
	}

	var health healthResponse
	if err := json.Unmarshal(respBody, &health); err != nil {
		return false
	}
	return health.Status == "ok" && health.Session == "authenticated"
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, resp.StatusCode(), nil
}
