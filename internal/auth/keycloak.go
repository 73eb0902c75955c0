package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"

	"github.com/ternarybob/tego/internal/clients"
	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/httpclient"
	"github.com/ternarybob/tego/internal/models"
)

const discoveryPath = "/.well-known/openid-configuration"

// discovery is the subset of the OpenID Connect provider metadata the
// service needs.
type discovery struct {
	Issuer           string `json:"issuer"`
	TokenEndpoint    string `json:"token_endpoint"`
	UserinfoEndpoint string `json:"userinfo_endpoint"`
}

// KeycloakService validates credentials against a Keycloak realm. Two
// flows are supported: the direct access grant for username/password
// pairs and a userinfo round trip for bearer tokens.
type KeycloakService struct {
	cfg        common.KeycloakConfig
	endpoints  discovery
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewKeycloakService discovers the realm endpoints. Discovery runs
// under the keycloak connection budget; a realm that stays unreachable
// fails construction.
func NewKeycloakService(ctx context.Context, cfg common.KeycloakConfig, logger arbor.ILogger) (*KeycloakService, error) {
	if cfg.Flow != "" && cfg.Flow != common.KeycloakFlowDirectGrant {
		return nil, fmt.Errorf("unsupported keycloak flow: %s", cfg.Flow)
	}
	s := &KeycloakService{
		cfg:        cfg,
		httpClient: httpclient.NewDefaultHTTPClient(httpclient.DefaultTimeout),
		logger:     logger,
	}
	endpoints, err := clients.Retry(ctx, cfg.Connection, func() (discovery, error) {
		return s.discover(ctx)
	}, clients.IsTransportError)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if clients.IsTransportError(err) {
			return nil, fmt.Errorf("max retries exceeded when connecting to the Keycloak provider: %w", err)
		}
		return nil, fmt.Errorf("keycloak discovery failed: %w", err)
	}
	s.endpoints = endpoints
	logger.Debug().Str("issuer", endpoints.Issuer).Msg("Discovered Keycloak realm endpoints")
	return s, nil
}

// issuerURL joins the server URL and the realm path. An empty realm
// means the configured URL already points at the issuer.
func (s *KeycloakService) issuerURL() string {
	base := strings.TrimSuffix(s.cfg.URL, "/")
	if s.cfg.Realm == "" {
		return base
	}
	return base + "/realms/" + s.cfg.Realm
}

func (s *KeycloakService) discover(ctx context.Context) (discovery, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.issuerURL()+discoveryPath, nil)
	if err != nil {
		return discovery{}, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return discovery{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return discovery{}, fmt.Errorf("discovery request returned status %d", resp.StatusCode)
	}
	var doc discovery
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return discovery{}, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if doc.TokenEndpoint == "" || doc.UserinfoEndpoint == "" {
		return discovery{}, fmt.Errorf("discovery document for %s is incomplete", s.issuerURL())
	}
	return doc, nil
}

// Authorize checks the supplied credentials against the realm.
// Username/password pairs go through the direct access grant, bearer
// tokens through userinfo. A request without credentials is rejected.
func (s *KeycloakService) Authorize(ctx context.Context, creds models.Credentials) (*models.AuthResult, error) {
	if creds.Username != "" && creds.Password != "" {
		return s.directGrant(ctx, creds.Username, creds.Password)
	}
	if creds.JWT != "" {
		return s.verifyToken(ctx, strings.TrimPrefix(creds.JWT, "Bearer "))
	}
	return models.AuthFailure(), nil
}

func (s *KeycloakService) directGrant(ctx context.Context, username, password string) (*models.AuthResult, error) {
	conf := &oauth2.Config{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret.Value(),
		Endpoint:     oauth2.Endpoint{TokenURL: s.endpoints.TokenEndpoint},
	}
	token, err := conf.PasswordCredentialsToken(
		context.WithValue(ctx, oauth2.HTTPClient, s.httpClient), username, password)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			s.logger.Debug().Int("status", retrieve.Response.StatusCode).Msg("Direct grant rejected")
			return models.AuthFailure(), nil
		}
		return nil, fmt.Errorf("direct grant request failed: %w", err)
	}
	if !tokenComplete(token) {
		s.logger.Debug().Msg("Direct grant answer is missing token fields")
		return models.AuthFailure(), nil
	}
	return &models.AuthResult{
		Authorized:   true,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}, nil
}

// tokenComplete reports whether the token answer carried every field of
// a finished direct grant. Partial answers count as rejections.
func tokenComplete(token *oauth2.Token) bool {
	if token.AccessToken == "" || token.RefreshToken == "" || token.TokenType == "" {
		return false
	}
	if token.Expiry.IsZero() {
		return false
	}
	scope, _ := token.Extra("scope").(string)
	return scope != ""
}

// verifyToken asks the userinfo endpoint whether the bearer token is
// valid. Verification failures reject the token rather than erroring;
// only cancellation propagates.
func (s *KeycloakService) verifyToken(ctx context.Context, token string) (*models.AuthResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoints.UserinfoEndpoint, nil)
	if err != nil {
		return models.AuthFailure(), nil
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn().Err(err).Msg("Userinfo request failed")
		return models.AuthFailure(), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.logger.Debug().Int("status", resp.StatusCode).Msg("Bearer token rejected")
		return models.AuthFailure(), nil
	}
	return models.AuthSuccess(), nil
}
