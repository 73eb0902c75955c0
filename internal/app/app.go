package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/auth"
	"github.com/ternarybob/tego/internal/clients"
	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/handlers"
	"github.com/ternarybob/tego/internal/interfaces"
	"github.com/ternarybob/tego/internal/jobs"
	"github.com/ternarybob/tego/internal/storage"
	"github.com/ternarybob/tego/internal/tasks"
)

// App holds all application components and dependencies
type App struct {
	Logger arbor.ILogger

	config *common.Config

	// Services swapped wholesale by Reinitialize. Handlers resolve them
	// through the accessors on every request, so in-flight requests keep
	// the instances they already hold.
	mu           sync.RWMutex
	authService  interfaces.AuthService
	contextStore interfaces.ContextStore
	auditStore   interfaces.AuditStore
	taskService  *tasks.Service
	registry     *engine.Registry
	deps         *jobs.Dependencies

	// HTTP handlers
	APIHandler        *handlers.APIHandler
	AnonymizerHandler *handlers.AnonymizerHandler
	TasksHandler      *handlers.TasksHandler
	DebugHandler      *handlers.DebugHandler
}

// New initializes the application with all dependencies
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Logger: logger,
		config: cfg,
	}

	if err := app.initServices(ctx); err != nil {
		return nil, err
	}

	app.initHandlers()

	logger.Info().
		Str("auth", cfg.Auth.Provider).
		Str("context", cfg.Context.Provider).
		Str("audit", cfg.Audit.Provider).
		Msg("Application initialization complete")

	return app, nil
}

// initServices builds the auth service, the stores, the task service and
// the pipeline job registry in dependency order, then swaps them in
// together.
func (a *App) initServices(ctx context.Context) error {
	a.Logger.Info().Msg("Initializing auth service")
	authService, err := auth.New(ctx, a.Logger, a.config)
	if err != nil {
		return fmt.Errorf("failed to initialize auth service: %w", err)
	}

	a.Logger.Info().Msg("Initializing context store")
	contextStore, err := storage.NewContextStore(ctx, a.Logger, a.config)
	if err != nil {
		return fmt.Errorf("failed to initialize context store: %w", err)
	}

	a.Logger.Info().Msg("Initializing audit store")
	auditStore, err := storage.NewAuditStore(ctx, a.Logger, a.config)
	if err != nil {
		contextStore.Close()
		return fmt.Errorf("failed to initialize audit store: %w", err)
	}

	taskService, err := a.buildTaskService(auditStore)
	if err != nil {
		auditStore.Close()
		contextStore.Close()
		return fmt.Errorf("failed to initialize task service: %w", err)
	}

	deps := jobs.NewDependencies(a.config, contextStore, auditStore)
	registry := engine.NewRegistry(a.Logger)
	if err := jobs.Register(registry, deps); err != nil {
		taskService.Stop()
		auditStore.Close()
		contextStore.Close()
		return fmt.Errorf("failed to register pipeline jobs: %w", err)
	}

	a.mu.Lock()
	a.authService = authService
	a.contextStore = contextStore
	a.auditStore = auditStore
	a.taskService = taskService
	a.registry = registry
	a.deps = deps
	a.mu.Unlock()

	return nil
}

// buildTaskService registers every known background task. Tasks only
// start running when the lifecycle endpoint adds them.
func (a *App) buildTaskService(audits interfaces.AuditStore) (*tasks.Service, error) {
	service := tasks.NewService(a.Logger)

	if a.config.Services.Audit.Configured() {
		dlt := clients.NewTMBClient(a.config.Services.Audit.URL,
			a.config.Services.Audit.Connection, a.Logger)
		definition := tasks.NewPublishAudits(a.config.Services.Audit, audits, dlt, a.Logger)
		if err := service.RegisterTask(definition); err != nil {
			service.Stop()
			return nil, err
		}
		a.Logger.Debug().Str("task", definition.Name).Msg("Registered background task")
	} else {
		a.Logger.Warn().Msg("Audit publication service not configured, publication task unavailable")
	}

	return service, nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler()
	a.AnonymizerHandler = handlers.NewAnonymizerHandler(a)
	a.TasksHandler = handlers.NewTasksHandler(a)
	a.DebugHandler = handlers.NewDebugHandler(a, a)
}

// Config returns the active configuration.
func (a *App) Config() *common.Config { return a.config }

// AuthService implements handlers.Application.
func (a *App) AuthService() interfaces.AuthService {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.authService
}

// ContextStore returns the active anonymization context store.
func (a *App) ContextStore() interfaces.ContextStore {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.contextStore
}

// AuditStore implements handlers.Application.
func (a *App) AuditStore() interfaces.AuditStore {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.auditStore
}

// TaskService implements handlers.Application.
func (a *App) TaskService() interfaces.TaskService {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.taskService
}

// PipelineRegistry implements handlers.Application.
func (a *App) PipelineRegistry() *engine.Registry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.registry
}

// Reinitialize tears the running services down and rebuilds them from
// the current configuration. The stores must close before the rebuild
// because file-backed providers hold exclusive locks. If the rebuild
// fails the app keeps serving, answering 500 on the endpoints that need
// the missing services, until a corrected configuration arrives.
func (a *App) Reinitialize(ctx context.Context) error {
	a.Logger.Info().Msg("Reinitializing services")
	a.closeServices()
	return a.initServices(ctx)
}

// closeServices stops the background tasks and closes the stores. Safe
// to call when the services are already gone.
func (a *App) closeServices() {
	a.mu.Lock()
	taskService := a.taskService
	contextStore := a.contextStore
	auditStore := a.auditStore
	a.taskService = nil
	a.contextStore = nil
	a.auditStore = nil
	a.authService = nil
	a.registry = nil
	a.deps = nil
	a.mu.Unlock()

	if taskService != nil {
		taskService.Stop()
		a.Logger.Debug().Msg("Task service stopped")
	}
	if contextStore != nil {
		if err := contextStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close context store")
		}
	}
	if auditStore != nil {
		if err := auditStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close audit store")
		}
	}
}

// Close closes all application resources
func (a *App) Close() error {
	a.closeServices()
	a.Logger.Info().Msg("Services stopped")
	return nil
}
