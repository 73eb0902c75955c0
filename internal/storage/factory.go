package storage

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/interfaces"
	"github.com/ternarybob/tego/internal/storage/badger"
	"github.com/ternarybob/tego/internal/storage/postgres"
	"github.com/ternarybob/tego/internal/storage/valkey"
)

// NewContextStore creates the context store selected by config
func NewContextStore(ctx context.Context, logger arbor.ILogger, config *common.Config) (interfaces.ContextStore, error) {
	switch config.Context.Provider {
	case common.ContextProviderNone, "":
		return NewNoneContextStore(logger), nil
	case common.ContextProviderBadger:
		db, err := badger.NewBadgerDB(logger, &config.Context.Badger)
		if err != nil {
			return nil, err
		}
		return badger.NewContextStorage(db, logger), nil
	case common.ContextProviderPostgres:
		return postgres.NewContextStorage(ctx, &config.Context.Postgres, logger)
	default:
		return nil, fmt.Errorf("unsupported context provider: %s", config.Context.Provider)
	}
}

// NewAuditStore creates the audit store selected by config
func NewAuditStore(ctx context.Context, logger arbor.ILogger, config *common.Config) (interfaces.AuditStore, error) {
	switch config.Audit.Provider {
	case common.AuditProviderNone, "":
		return NewNoneAuditStore(logger), nil
	case common.AuditProviderBadger:
		db, err := badger.NewBadgerDB(logger, &config.Audit.Badger)
		if err != nil {
			return nil, err
		}
		return badger.NewAuditStorage(db, logger), nil
	case common.AuditProviderValkey:
		return valkey.NewAuditStorage(ctx, &config.Audit.Valkey, config.Audit.Connection, logger)
	default:
		return nil, fmt.Errorf("unsupported audit provider: %s", config.Audit.Provider)
	}
}
