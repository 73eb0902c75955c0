// Package postgres provides the PostgreSQL-backed context store. Requests
// are kept in a single table keyed by content hash, with denormalized
// type columns for filtering.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/interfaces"
	"github.com/ternarybob/tego/internal/models"
)

// ContextStorage implements the ContextStore interface for PostgreSQL
type ContextStorage struct {
	pool   *pgxpool.Pool
	table  string
	logger arbor.ILogger
}

// NewContextStorage connects to the configured database and ensures the
// context table exists.
func NewContextStorage(ctx context.Context, config *common.PostgresStoreConfig, logger arbor.ILogger) (interfaces.ContextStore, error) {
	pool, err := pgxpool.New(ctx, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &ContextStorage{
		pool:   pool,
		table:  pgx.Identifier{config.Table}.Sanitize(),
		logger: logger,
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Debug().Str("table", config.Table).Msg("Postgres context store initialized")
	return s, nil
}

func (s *ContextStorage) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			hash TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			component_types TEXT NOT NULL,
			request_types TEXT NOT NULL
		)
	`, s.table)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create context table: %w", err)
	}
	return nil
}

// Record upserts a request keyed by its content hash, so recording the
// same request twice leaves a single stored copy.
func (s *ContextStorage) Record(ctx context.Context, request *models.Request) error {
	hash, err := request.Hash()
	if err != nil {
		return fmt.Errorf("failed to hash request: %w", err)
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (hash, json, component_types, request_types)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (hash) DO UPDATE SET
			json = excluded.json,
			component_types = excluded.component_types,
			request_types = excluded.request_types
	`, s.table)

	componentTypes := strings.Join(request.TypesOne().Sorted(), ",")
	requestTypes := strings.Join(request.Type.Sorted(), ",")
	if _, err := s.pool.Exec(ctx, query, hash, string(encoded), componentTypes, requestTypes); err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}

	s.logger.Debug().Str("hash", hash).Msg("Recorded context request")
	return nil
}

// Lookup returns the stored requests matching the query's type filters.
func (s *ContextStorage) Lookup(ctx context.Context, query interfaces.ContextQuery) ([]*models.Request, error) {
	where, args := buildFilters(query)
	sql := fmt.Sprintf(`SELECT hash, json FROM %s%s`, s.table, where)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.Request
	for rows.Next() {
		var hash, encoded string
		if err := rows.Scan(&hash, &encoded); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var request models.Request
		if err := json.Unmarshal([]byte(encoded), &request); err != nil {
			return nil, fmt.Errorf("failed to decode stored request %s: %w", hash, err)
		}
		requests = append(requests, &request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return requests, nil
}

// Close releases the connection pool.
func (s *ContextStorage) Close() error {
	s.pool.Close()
	return nil
}

// buildFilters translates the type filters into a WHERE clause. Types are
// stored comma-joined, so each match is an exact token comparison against
// the delimited column. An empty filter matches everything.
func buildFilters(query interfaces.ContextQuery) (string, []any) {
	var groups []string
	var args []any

	if clause := tokenGroup("component_types", query.DataTypes, query.DataAll, &args); clause != "" {
		groups = append(groups, clause)
	}
	if clause := tokenGroup("request_types", query.RequestTypes, query.RequestAll, &args); clause != "" {
		groups = append(groups, clause)
	}
	if len(groups) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(groups, " AND "), args
}

func tokenGroup(column string, types []string, all bool, args *[]any) string {
	if len(types) == 0 {
		return ""
	}
	conditions := make([]string, 0, len(types))
	for _, t := range types {
		*args = append(*args, t)
		conditions = append(conditions,
			fmt.Sprintf("position(',' || $%d || ',' in ',' || %s || ',') > 0", len(*args), column))
	}
	operator := " OR "
	if all {
		operator = " AND "
	}
	return "(" + strings.Join(conditions, operator) + ")"
}
