package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/httpclient"
	"github.com/ternarybob/tego/internal/models/misp"
)

// Endpoints of the MISP automation API.
const (
	mispEndpointVersion = "/servers/getVersion"
	mispEndpointAdd     = "/events/add"
	mispEndpointPublish = "/events/publish"
	mispEndpointView    = "/events/view"
)

// MISPClient exchanges events with a MISP threat sharing instance. The
// constructor verifies connectivity, so a returned client is ready to
// use.
type MISPClient struct {
	url        string
	key        string
	conn       common.ConnectionConfig
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewMISPClient creates a client for the MISP instance at url and checks
// that the instance answers. With verify false, server certificates are
// not validated.
func NewMISPClient(ctx context.Context, url, key string, verify bool, conn common.ConnectionConfig, logger arbor.ILogger) (*MISPClient, error) {
	c := &MISPClient{
		url:        strings.TrimSuffix(url, "/"),
		key:        key,
		conn:       conn,
		httpClient: httpclient.NewHTTPClientWithTLS(httpclient.DefaultTimeout, verify),
		logger:     logger,
	}
	if _, err := Retry(ctx, conn, func() (struct{}, error) {
		return struct{}{}, c.checkVersion(ctx)
	}, IsTransportError); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, WrapClientError(err, "unable to initialize MISP client")
	}
	return c, nil
}

// Close releases nothing today; the client is stateless between calls.
func (c *MISPClient) Close() error { return nil }

func (c *MISPClient) checkVersion(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodGet, mispEndpointVersion, nil)
	if err != nil {
		return err
	}
	var version struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &version); err != nil {
		return NewClientError("failed to decode MISP version: %v", err)
	}
	c.logger.Debug().Str("version", version.Version).Msg("Connected to MISP instance")
	return nil
}

// do issues one authenticated request and returns the raw body. MISP
// reports application errors inside 2xx and 4xx bodies alike, so any
// body is returned for the caller to inspect.
func (c *MISPClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = strings.NewReader(string(encoded))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.key)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// checkResults inspects a decoded MISP response for an error report and
// logs whatever detail the instance supplied.
func (c *MISPClient) checkResults(decoded map[string]any) bool {
	raw, found := decoded["errors"]
	if !found {
		return true
	}
	c.logger.Error().Msg("There was an error while interacting with MISP")
	switch errs := raw.(type) {
	case string:
		c.logger.Error().Str("message", errs).Msg("MISP error")
	case []any:
		if len(errs) > 0 {
			c.logger.Error().Str("code", fmt.Sprintf("%v", errs[0])).Msg("MISP error code")
		}
		if len(errs) > 1 {
			if info, ok := errs[1].(map[string]any); ok {
				for _, key := range []string{"name", "message", "url"} {
					if value, ok := info[key].(string); ok {
						c.logger.Error().Str(key, value).Msg("MISP error detail")
					}
				}
			}
		}
	}
	return false
}

// PostEvent uploads an event and optionally publishes it. Returns false
// when MISP reported an error for either step.
func (c *MISPClient) PostEvent(ctx context.Context, event *misp.Event, publish bool) (bool, error) {
	body, err := Retry(ctx, c.conn, func() ([]byte, error) {
		return c.do(ctx, http.MethodPost, mispEndpointAdd, misp.EventMISP{Event: *event})
	}, IsTransportError)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, WrapClientError(err, "MISP request failed")
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return false, NewClientError("failed to decode MISP response: %v", err)
	}
	if !c.checkResults(decoded) {
		return false, nil
	}
	if !publish {
		return true, nil
	}

	body, err = Retry(ctx, c.conn, func() ([]byte, error) {
		return c.do(ctx, http.MethodPost, mispEndpointPublish+"/"+event.UUID, nil)
	}, IsTransportError)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, WrapClientError(err, "MISP request failed")
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return false, NewClientError("failed to decode MISP response: %v", err)
	}
	return c.checkResults(decoded), nil
}

// GetEvent retrieves an event by id, or nil if MISP reported an error
// for the lookup.
func (c *MISPClient) GetEvent(ctx context.Context, eventID string) (*misp.Event, error) {
	body, err := Retry(ctx, c.conn, func() ([]byte, error) {
		return c.do(ctx, http.MethodGet, mispEndpointView+"/"+eventID, nil)
	}, IsTransportError)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, WrapClientError(err, "MISP request failed")
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, NewClientError("failed to decode MISP response: %v", err)
	}
	if !c.checkResults(decoded) {
		return nil, nil
	}
	var wrapper misp.EventMISP
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, NewClientError("failed to decode MISP event: %v", err)
	}
	return &wrapper.Event, nil
}
