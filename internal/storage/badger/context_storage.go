package badger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/tego/internal/interfaces"
	"github.com/ternarybob/tego/internal/models"
)

// contextRecord is the stored form of a context request, keyed by its
// content hash. The type columns are denormalized for filtering.
type contextRecord struct {
	Hash           string `badgerhold:"key"`
	JSON           []byte
	ComponentTypes []string
	RequestTypes   []string
}

// ContextStorage implements the ContextStore interface for Badger
type ContextStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewContextStorage creates a new ContextStorage instance. The storage
// owns the database connection and closes it on Close.
func NewContextStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ContextStore {
	return &ContextStorage{
		db:     db,
		logger: logger,
	}
}

// Record upserts a request keyed by its content hash, so recording the
// same request twice leaves a single stored copy.
func (s *ContextStorage) Record(ctx context.Context, request *models.Request) error {
	record, err := newContextRecord(request)
	if err != nil {
		return err
	}
	if err := s.db.Store().Upsert(record.Hash, record); err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	s.logger.Debug().Str("hash", record.Hash).Msg("Recorded context request")
	return nil
}

// Lookup returns the stored requests matching the query's type filters.
func (s *ContextStorage) Lookup(ctx context.Context, query interfaces.ContextQuery) ([]*models.Request, error) {
	criteria := buildQuery(query)

	var records []contextRecord
	if err := s.db.Store().Find(&records, criteria); err != nil {
		return nil, fmt.Errorf("failed to look up requests: %w", err)
	}

	requests := make([]*models.Request, 0, len(records))
	for _, record := range records {
		var request models.Request
		if err := json.Unmarshal(record.JSON, &request); err != nil {
			return nil, fmt.Errorf("failed to decode stored request %s: %w", record.Hash, err)
		}
		requests = append(requests, &request)
	}
	return requests, nil
}

// Close closes the underlying database.
func (s *ContextStorage) Close() error {
	return s.db.Close()
}

// newContextRecord serializes a request with its hash and type columns.
func newContextRecord(request *models.Request) (*contextRecord, error) {
	hash, err := request.Hash()
	if err != nil {
		return nil, fmt.Errorf("failed to hash request: %w", err)
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return &contextRecord{
		Hash:           hash,
		JSON:           encoded,
		ComponentTypes: request.TypesOne().Sorted(),
		RequestTypes:   request.Type.Sorted(),
	}, nil
}

// buildQuery translates the type filters into badgerhold criteria. An
// empty filter matches everything.
func buildQuery(query interfaces.ContextQuery) *badgerhold.Query {
	var q *badgerhold.Query
	if len(query.DataTypes) > 0 {
		q = contains(badgerhold.Where("ComponentTypes"), query.DataTypes, query.DataAll)
	}
	if len(query.RequestTypes) > 0 {
		if q == nil {
			q = contains(badgerhold.Where("RequestTypes"), query.RequestTypes, query.RequestAll)
		} else {
			q = contains(q.And("RequestTypes"), query.RequestTypes, query.RequestAll)
		}
	}
	return q
}

func contains(criterion *badgerhold.Criterion, types []string, all bool) *badgerhold.Query {
	values := make([]interface{}, len(types))
	for i, t := range types {
		values[i] = t
	}
	if all {
		return criterion.ContainsAll(values...)
	}
	return criterion.ContainsAny(values...)
}
