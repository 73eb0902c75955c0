package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/httpclient"
	"github.com/ternarybob/tego/internal/models/arxlet"
)

// Endpoints of the ARXlet REST surface.
const (
	arxletEndpointAttributes = "/attributes"
	arxletEndpointObjects    = "/objects"
)

// ARXletClient calls a remote ARXlet statistical disclosure control
// instance. One client is built per job run so that jobs can point
// individual requests at alternative deployments.
type ARXletClient struct {
	url        string
	conn       common.ConnectionConfig
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewARXletClient creates a client for the ARXlet instance at url.
func NewARXletClient(url string, conn common.ConnectionConfig, logger arbor.ILogger) *ARXletClient {
	return &ARXletClient{
		url:        strings.TrimSuffix(url, "/"),
		conn:       conn,
		httpClient: httpclient.NewDefaultHTTPClient(httpclient.DefaultTimeout),
		logger:     logger,
	}
}

// AnonymizeAttributes applies the request's PETs to free-standing
// attribute values. Returns the anonymized values in input order, or nil
// without error when ARXlet rejected the request with a non-200 status.
func (c *ARXletClient) AnonymizeAttributes(ctx context.Context, request *arxlet.AttributeRequest) ([]string, error) {
	endpoint := c.url + arxletEndpointAttributes
	c.logger.Debug().Str("url", endpoint).Msg("Using ARXlet URL")

	result, err := Retry(ctx, c.conn, func() ([]string, error) {
		resp, err := postJSON(ctx, c.httpClient, endpoint, request)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			c.logger.Error().Int("status", resp.StatusCode).Msg("ARXlet request returned non-200 status")
			return nil, nil
		}
		var values []string
		if err := json.NewDecoder(resp.Body).Decode(&values); err != nil {
			return nil, NewClientError("failed to decode ARXlet response: %v", err)
		}
		return values, nil
	}, IsTransportError)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, WrapClientError(err, "ARXlet request failed")
	}
	return result, nil
}

// AnonymizeObjects applies the request's PETs to quasi-identifier record
// groups. Returns one anonymized attribute row per input record, or nil
// without error when ARXlet rejected the request with a non-200 status.
func (c *ARXletClient) AnonymizeObjects(ctx context.Context, request *arxlet.ObjectRequest) ([][]arxlet.Attribute, error) {
	endpoint := c.url + arxletEndpointObjects
	c.logger.Debug().Str("url", endpoint).Msg("Using ARXlet URL")

	result, err := Retry(ctx, c.conn, func() ([][]arxlet.Attribute, error) {
		resp, err := postJSON(ctx, c.httpClient, endpoint, request)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			c.logger.Error().Int("status", resp.StatusCode).Msg("ARXlet request returned non-200 status")
			return nil, nil
		}
		var objects [][]arxlet.Attribute
		if err := json.NewDecoder(resp.Body).Decode(&objects); err != nil {
			return nil, NewClientError("failed to decode ARXlet response: %v", err)
		}
		return objects, nil
	}, IsTransportError)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, WrapClientError(err, "ARXlet request failed")
	}
	return result, nil
}
