package interfaces

import (
	"context"

	"github.com/ternarybob/tego/internal/models"
)

// AuthService validates request credentials against the configured
// identity provider.
type AuthService interface {
	// Authorize checks the supplied credentials. A nil error with an
	// unauthorized result means the credentials were simply rejected.
	Authorize(ctx context.Context, credentials models.Credentials) (*models.AuthResult, error)
}
