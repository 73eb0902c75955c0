package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/httpclient"
	"github.com/ternarybob/tego/internal/models/tmb"
)

// Endpoints of the TMB gRPC-over-HTTP gateway.
const (
	tmbEndpointSubscribe    = "/grpc/CTISUBSCRIBE"
	tmbEndpointEventSummary = "/grpc/ADDEVENTSUMMARY"

	// tmbClientID identifies this service on the ledger channel.
	tmbClientID = "1111"
)

// DLT error codes the gateway embeds in a 200 response. Code 13 signals
// a condition the ledger tolerates, so it is logged and treated as ok.
const (
	dltCodeOK      = 0
	dltCodeWarning = 13
)

// DLTError reports a rejection from the TMB ledger gateway.
type DLTError struct {
	msg string
	err error
}

// NewDLTError builds a DLTError with a formatted message.
func NewDLTError(format string, args ...any) *DLTError {
	return &DLTError{msg: fmt.Sprintf(format, args...)}
}

// WrapDLTError builds a DLTError carrying an underlying cause.
func WrapDLTError(err error, format string, args ...any) *DLTError {
	return &DLTError{msg: fmt.Sprintf(format, args...), err: err}
}

func (e *DLTError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *DLTError) Unwrap() error { return e.err }

// TMBClient publishes audit event summaries on the TMB distributed
// ledger through its HTTP gateway.
type TMBClient struct {
	url        string
	conn       common.ConnectionConfig
	httpClient *http.Client
	logger     arbor.ILogger

	mu         sync.Mutex
	subscribed bool
}

// NewTMBClient creates a client for the TMB gateway at url.
func NewTMBClient(url string, conn common.ConnectionConfig, logger arbor.ILogger) *TMBClient {
	return &TMBClient{
		url:        strings.TrimSuffix(url, "/"),
		conn:       conn,
		httpClient: httpclient.NewDefaultHTTPClient(httpclient.DefaultTimeout),
		logger:     logger,
	}
}

// Subscribe registers this client on the ledger channel. The gateway
// answers 201 when the client was already subscribed.
func (c *TMBClient) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribeLocked(ctx)
}

func (c *TMBClient) subscribeLocked(ctx context.Context) error {
	body := map[string]string{
		"action":   "SUBSCRIBE",
		"clientID": tmbClientID,
	}
	_, err := Retry(ctx, c.conn, func() (struct{}, error) {
		resp, err := postJSON(ctx, c.httpClient, c.url+tmbEndpointSubscribe, body)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			c.logger.Debug().Msg("Client was already subscribed")
			return struct{}{}, nil
		case http.StatusOK:
			return struct{}{}, nil
		default:
			c.logger.Debug().Int("status", resp.StatusCode).Msg("Unable to subscribe to the DLT")
			return struct{}{}, NewDLTError("expected HTTP 200, got %d", resp.StatusCode)
		}
	}, IsTransportError)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var dltErr *DLTError
		if errors.As(err, &dltErr) {
			return err
		}
		return WrapDLTError(err, "unable to subscribe to the DLT")
	}
	c.subscribed = true
	return nil
}

// dltReply is the envelope the gateway wraps chaincode results in.
type dltReply struct {
	Result struct {
		Error *struct {
			Code    *int   `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"result"`
}

// PublishEventSummary records an aggregated audit summary on the ledger,
// subscribing first if this client has not yet done so.
func (c *TMBClient) PublishEventSummary(ctx context.Context, summary *tmb.EventSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.subscribed {
		c.logger.Warn().Msg("Not subscribed to the DLT, subscribing")
		if err := c.subscribeLocked(ctx); err != nil {
			return err
		}
	}

	encoded, err := json.Marshal(summary)
	if err != nil {
		return WrapDLTError(err, "unable to encode event summary")
	}
	form := url.Values{
		"action":           {"ADDEVENTSUMMARY"},
		"clientID":         {tmbClientID},
		"eventSummaryJSON": {string(encoded)},
	}

	c.logger.Debug().Msg("Publishing event summary to the DLT")
	_, err = Retry(ctx, c.conn, func() (struct{}, error) {
		return struct{}{}, c.postSummary(ctx, form)
	}, IsTransportError)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var dltErr *DLTError
		if errors.As(err, &dltErr) {
			return err
		}
		return WrapDLTError(err, "unable to publish to the DLT")
	}
	return nil
}

func (c *TMBClient) postSummary(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.url+tmbEndpointEventSummary, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug().Int("status", resp.StatusCode).Msg("Unable to publish to the DLT")
		return NewDLTError("expected HTTP 200, got %d", resp.StatusCode)
	}

	var reply dltReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return WrapDLTError(err, "malformed DLT response")
	}
	if reply.Result.Error == nil || reply.Result.Error.Code == nil {
		return NewDLTError("malformed DLT response")
	}
	switch *reply.Result.Error.Code {
	case dltCodeOK:
		return nil
	case dltCodeWarning:
		c.logger.Warn().Str("message", reply.Result.Error.Message).Msg("Potential error response")
		return nil
	default:
		c.logger.Debug().Int("code", *reply.Result.Error.Code).Msg("Unknown error code")
		return NewDLTError("%s", reply.Result.Error.Message)
	}
}
