// Package auth implements the identity providers behind protected
// endpoints: none, which admits every request, and keycloak, which
// validates credentials against an OpenID Connect server.
package auth

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/interfaces"
	"github.com/ternarybob/tego/internal/models"
)

// New creates the auth service selected by config. The keycloak
// provider discovers its realm endpoints here, so construction can
// fail when the identity server stays unreachable.
func New(ctx context.Context, logger arbor.ILogger, config *common.Config) (interfaces.AuthService, error) {
	switch config.Auth.Provider {
	case common.AuthProviderNone, "":
		return &NoneService{}, nil
	case common.AuthProviderKeycloak:
		return NewKeycloakService(ctx, config.Auth.Keycloak, logger)
	default:
		return nil, fmt.Errorf("unsupported auth provider: %s", config.Auth.Provider)
	}
}

// NoneService authorizes every request.
type NoneService struct{}

// Authorize reports success regardless of the supplied credentials.
func (s *NoneService) Authorize(context.Context, models.Credentials) (*models.AuthResult, error) {
	return models.AuthSuccess(), nil
}
