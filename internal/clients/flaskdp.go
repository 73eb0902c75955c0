package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/httpclient"
	"github.com/ternarybob/tego/internal/models/flaskdp"
)

const flaskdpEndpointApply = "/api/dp/apply"

// FlaskDPClient calls a remote FlaskDP differential privacy instance.
type FlaskDPClient struct {
	url        string
	conn       common.ConnectionConfig
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewFlaskDPClient creates a client for the FlaskDP instance at url.
func NewFlaskDPClient(url string, conn common.ConnectionConfig, logger arbor.ILogger) *FlaskDPClient {
	return &FlaskDPClient{
		url:        strings.TrimSuffix(url, "/"),
		conn:       conn,
		httpClient: httpclient.NewDefaultHTTPClient(httpclient.DefaultTimeout),
		logger:     logger,
	}
}

// Apply perturbs every item in the request server-side. Returns nil
// without error when FlaskDP rejected the request with a non-200 status.
func (c *FlaskDPClient) Apply(ctx context.Context, request *flaskdp.Request) (*flaskdp.Response, error) {
	endpoint := c.url + flaskdpEndpointApply
	c.logger.Debug().Str("url", endpoint).Msg("Using FlaskDP URL")

	result, err := Retry(ctx, c.conn, func() (*flaskdp.Response, error) {
		resp, err := postJSON(ctx, c.httpClient, endpoint, request)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			c.logger.Error().Int("status", resp.StatusCode).Msg("FlaskDP request returned non-200 status")
			return nil, nil
		}
		var decoded flaskdp.Response
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, NewClientError("failed to decode FlaskDP response: %v", err)
		}
		return &decoded, nil
	}, IsTransportError)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, WrapClientError(err, "FlaskDP request failed")
	}
	return result, nil
}
