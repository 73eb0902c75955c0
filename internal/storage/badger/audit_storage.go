package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/tego/internal/interfaces"
	"github.com/ternarybob/tego/internal/models"
)

// auditRecord is one stored audit, keyed by its epoch timestamp.
type auditRecord struct {
	Timestamp float64 `badgerhold:"key"`
	Data      []byte
}

// AuditStorage implements the AuditStore interface for Badger
type AuditStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAuditStorage creates a new AuditStorage instance. The storage owns
// the database connection and closes it on Close.
func NewAuditStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AuditStore {
	return &AuditStorage{
		db:     db,
		logger: logger,
	}
}

// LogAudit stores an audit under the given epoch timestamp, or under the
// current time when the timestamp is zero. Returns the timestamp used.
func (s *AuditStorage) LogAudit(ctx context.Context, audit models.Audit, timestamp float64) (float64, error) {
	if timestamp == 0 {
		timestamp = now()
	}
	encoded, err := audit.Encode()
	if err != nil {
		return 0, fmt.Errorf("failed to encode audit: %w", err)
	}
	record := &auditRecord{Timestamp: timestamp, Data: encoded}
	if err := s.db.Store().Upsert(timestamp, record); err != nil {
		return 0, fmt.Errorf("failed to log audit: %w", err)
	}
	s.logger.Debug().Float64("timestamp", timestamp).Msg("Logged audit")
	return timestamp, nil
}

// RemoveAudit deletes and returns the audit stored at the timestamp, or
// nil when no audit is stored there.
func (s *AuditStorage) RemoveAudit(ctx context.Context, timestamp float64) (models.Audit, error) {
	var record auditRecord
	err := s.db.Store().Get(timestamp, &record)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit: %w", err)
	}
	if err := s.db.Store().Delete(timestamp, &auditRecord{}); err != nil {
		return nil, fmt.Errorf("failed to remove audit: %w", err)
	}
	return models.DecodeAudit(record.Data)
}

// UpdateAudit applies fn to the audit stored at the timestamp and writes
// the result back. Returns false when no audit is stored there.
func (s *AuditStorage) UpdateAudit(ctx context.Context, timestamp float64, fn func(models.Audit) models.Audit) (bool, error) {
	var record auditRecord
	err := s.db.Store().Get(timestamp, &record)
	if err == badgerhold.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get audit: %w", err)
	}

	audit, err := models.DecodeAudit(record.Data)
	if err != nil {
		return false, err
	}
	encoded, err := fn(audit).Encode()
	if err != nil {
		return false, fmt.Errorf("failed to encode audit: %w", err)
	}
	record.Data = encoded
	if err := s.db.Store().Upsert(timestamp, &record); err != nil {
		return false, fmt.Errorf("failed to update audit: %w", err)
	}
	return true, nil
}

// GetAudits returns the audits stored between the two epoch timestamps,
// inclusive, ordered by timestamp.
func (s *AuditStorage) GetAudits(ctx context.Context, from, until float64) ([]models.Audit, error) {
	var records []auditRecord
	query := badgerhold.Where("Timestamp").Ge(from).And("Timestamp").Le(until).SortBy("Timestamp")
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to get audits: %w", err)
	}

	audits := make([]models.Audit, 0, len(records))
	for _, record := range records {
		audit, err := models.DecodeAudit(record.Data)
		if err != nil {
			return nil, err
		}
		audits = append(audits, audit)
	}
	return audits, nil
}

// Close closes the underlying database.
func (s *AuditStorage) Close() error {
	return s.db.Close()
}

// now returns the current time as epoch seconds with fractional part.
func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
