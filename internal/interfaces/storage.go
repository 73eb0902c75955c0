package interfaces

import (
	"context"

	"github.com/ternarybob/tego/internal/models"
)

// ContextQuery selects stored Requests by the type tags of their
// components and, optionally, of the Requests themselves. The All flags
// choose between AND and OR matching over the corresponding type list.
type ContextQuery struct {
	DataTypes    []string
	DataAll      bool
	RequestTypes []string
	RequestAll   bool
}

// ContextStore - persistence for Requests used as anonymization context
type ContextStore interface {
	// Lookup returns stored Requests matching the query.
	Lookup(ctx context.Context, query ContextQuery) ([]*models.Request, error)

	// Record upserts a Request keyed by its content hash, so recording
	// the same Request twice leaves a single stored copy.
	Record(ctx context.Context, request *models.Request) error

	Close() error
}

// AuditStore - timestamp-ordered persistence for audit records
type AuditStore interface {
	// LogAudit stores an audit record scored by timestamp and returns
	// the timestamp it was stored under. A zero timestamp means "now".
	LogAudit(ctx context.Context, audit models.Audit, timestamp float64) (float64, error)

	// RemoveAudit deletes the audit record stored at the exact
	// timestamp and returns it, or nil if no such record exists.
	RemoveAudit(ctx context.Context, timestamp float64) (models.Audit, error)

	// UpdateAudit rewrites the record at the given timestamp through fn,
	// keeping its score. Returns false if no record exists there.
	UpdateAudit(ctx context.Context, timestamp float64, fn func(models.Audit) models.Audit) (bool, error)

	// GetAudits returns all records scored within [from, until].
	GetAudits(ctx context.Context, from, until float64) ([]models.Audit, error)

	Close() error
}
