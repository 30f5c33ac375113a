package alert

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/himyeticapital/polytracker/pkg/types"
)

// Sender delivers one alert to one destination. Implementations classify
// failures so the dispatcher can tell a retryable outage from a permanent
// rejection.
type Sender interface {
	Name() string
	Send(ctx context.Context, a types.Alert) error
}

// SendError is a classified delivery failure.
type SendError struct {
	Status     int           // HTTP status, 0 for transport errors
	RetryAfter time.Duration // server-requested delay, 0 if none given
	Body       string
}

func (e *SendError) Error() string {
	if e.Status == 0 {
		return "send failed: " + e.Body
	}
	return fmt.Sprintf("send failed: status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the dispatcher should try again. Transport
// errors, 5xx, and 429 are retryable; any other 4xx is a permanent
// rejection of this payload.
func (e *SendError) Retryable() bool {
	return e.Status == 0 || e.Status >= 500 || e.Status == http429
}

const http429 = 429

// classifyResponse turns a resty result into nil or a *SendError.
func classifyResponse(resp *resty.Response, err error) error {
	if err != nil {
		return &SendError{Body: err.Error()}
	}
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}

	se := &SendError{Status: code, Body: truncate(resp.String(), 200)}
	if code == http429 {
		if secs, parseErr := strconv.Atoi(resp.Header().Get("Retry-After")); parseErr == nil && secs > 0 {
			se.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return se
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
