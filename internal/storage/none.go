package storage

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/interfaces"
	"github.com/ternarybob/tego/internal/models"
)

// NoneContextStore discards records and answers every lookup with an
// empty result. It backs deployments that run without context storage.
type NoneContextStore struct {
	logger arbor.ILogger
}

// NewNoneContextStore creates a context store that stores nothing.
func NewNoneContextStore(logger arbor.ILogger) interfaces.ContextStore {
	return &NoneContextStore{logger: logger}
}

// Record discards the request.
func (s *NoneContextStore) Record(ctx context.Context, request *models.Request) error {
	s.logger.Debug().Msg("Context storage disabled, discarding request")
	return nil
}

// Lookup returns no requests.
func (s *NoneContextStore) Lookup(ctx context.Context, query interfaces.ContextQuery) ([]*models.Request, error) {
	return nil, nil
}

// Close does nothing.
func (s *NoneContextStore) Close() error { return nil }

// NoneAuditStore discards audits. LogAudit still hands out timestamps so
// callers can thread them through unchanged.
type NoneAuditStore struct {
	logger arbor.ILogger
}

// NewNoneAuditStore creates an audit store that stores nothing.
func NewNoneAuditStore(logger arbor.ILogger) interfaces.AuditStore {
	return &NoneAuditStore{logger: logger}
}

// LogAudit discards the audit and returns the timestamp that would have
// been used.
func (s *NoneAuditStore) LogAudit(ctx context.Context, audit models.Audit, timestamp float64) (float64, error) {
	if timestamp == 0 {
		timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	s.logger.Debug().Msg("Audit storage disabled, discarding audit")
	return timestamp, nil
}

// RemoveAudit reports no stored audit.
func (s *NoneAuditStore) RemoveAudit(ctx context.Context, timestamp float64) (models.Audit, error) {
	return nil, nil
}

// UpdateAudit reports no stored audit.
func (s *NoneAuditStore) UpdateAudit(ctx context.Context, timestamp float64, fn func(models.Audit) models.Audit) (bool, error) {
	return false, nil
}

// GetAudits returns no audits.
func (s *NoneAuditStore) GetAudits(ctx context.Context, from, until float64) ([]models.Audit, error) {
	return nil, nil
}

// Close does nothing.
func (s *NoneAuditStore) Close() error { return nil }
