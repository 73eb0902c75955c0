package handlers

import (
	"context"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/interfaces"
)

// Application exposes the service state handlers read on every request.
// Handlers go through these accessors instead of capturing services at
// construction, so a configuration update can swap implementations
// without re-registering routes.
type Application interface {
	Config() *common.Config
	AuthService() interfaces.AuthService
	AuditStore() interfaces.AuditStore
	TaskService() interfaces.TaskService
	PipelineRegistry() *engine.Registry
}

// Reinitializer rebuilds the application services after a configuration
// update.
type Reinitializer interface {
	Reinitialize(ctx context.Context) error
}
