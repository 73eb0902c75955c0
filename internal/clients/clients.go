// Package clients implements the clients behind Tego's external
// collaborators: the ARXlet disclosure control service, the FlaskDP
// differential privacy service, MISP, the MQTT broker and the TMB
// distributed ledger gateway. Remote calls run inside a shared retry
// envelope driven by the per-service connection config.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/tego/internal/common"
)

// ClientError marks a transport or initialization failure inside an
// external service client. Jobs translate these into job failures; the
// execution engine never sees them directly.
type ClientError struct {
	msg string
	err error
}

// NewClientError builds a ClientError with a formatted message.
func NewClientError(format string, args ...any) *ClientError {
	return &ClientError{msg: fmt.Sprintf(format, args...)}
}

// WrapClientError builds a ClientError carrying an underlying cause.
func WrapClientError(err error, format string, args ...any) *ClientError {
	return &ClientError{msg: fmt.Sprintf(format, args...), err: err}
}

func (e *ClientError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *ClientError) Unwrap() error { return e.err }

// IsTransportError reports whether err originated in the HTTP transport
// rather than in the remote service's answer. Only transport failures
// are worth retrying; a deliberate rejection will not clear up by
// asking again.
func IsTransportError(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Retry runs fn until it succeeds, the attempt budget of conn is spent,
// or ctx is cancelled. Between attempts it waits the configured timeout;
// there is no wait after the final attempt. Errors the retryable
// predicate rejects fail immediately. Cancellation is never absorbed, so
// a cancelled request propagates out of the running job untouched.
func Retry[T any](ctx context.Context, conn common.ConnectionConfig, fn func() (T, error), retryable func(error) bool) (T, error) {
	var zero T
	attempts := conn.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		var result T
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if !retryable(err) {
			return zero, err
		}
		if attempt+1 == attempts {
			break
		}
		select {
		case <-time.After(time.Duration(conn.Timeout) * time.Second):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, err
}

// postJSON sends a JSON-encoded body and returns the raw response. The
// caller owns the response body.
func postJSON(ctx context.Context, client *http.Client, url string, body any) (*http.Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}
