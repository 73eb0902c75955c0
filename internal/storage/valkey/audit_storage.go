// Package valkey provides the Valkey-backed audit store. Audits live in
// one sorted set scored by their epoch timestamp, so range reads come
// back in chronological order.
package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/interfaces"
	"github.com/ternarybob/tego/internal/models"
)

// auditsKey is the sorted set holding all audits.
const auditsKey = "AUDITS"

// AuditStorage implements the AuditStore interface for Valkey
type AuditStorage struct {
	client *redis.Client
	logger arbor.ILogger
}

// NewAuditStorage connects to the configured Valkey instance and checks
// that it answers. Retries are handled by the client library, tuned from
// the shared connection settings.
func NewAuditStorage(ctx context.Context, config *common.ValkeyConfig, conn common.ConnectionConfig, logger arbor.ILogger) (interfaces.AuditStore, error) {
	opts, err := redis.ParseURL(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid valkey DSN: %w", err)
	}
	if config.SSL && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{}
	}
	if conn.Attempts > 0 {
		opts.MaxRetries = conn.Attempts - 1
	}
	if conn.Timeout > 0 {
		opts.MinRetryBackoff = time.Second
		opts.MaxRetryBackoff = time.Duration(conn.Timeout) * time.Second
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to initialize audit store: %w", err)
	}

	logger.Debug().Str("addr", opts.Addr).Msg("Valkey audit store initialized")
	return &AuditStorage{
		client: client,
		logger: logger,
	}, nil
}

// LogAudit stores an audit under the given epoch timestamp, or under the
// current time when the timestamp is zero. Returns the timestamp used.
func (s *AuditStorage) LogAudit(ctx context.Context, audit models.Audit, timestamp float64) (float64, error) {
	if timestamp == 0 {
		timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	encoded, err := audit.Encode()
	if err != nil {
		return 0, fmt.Errorf("failed to encode audit: %w", err)
	}
	member := redis.Z{Score: timestamp, Member: string(encoded)}
	if err := s.client.ZAdd(ctx, auditsKey, member).Err(); err != nil {
		return 0, fmt.Errorf("failed to log audit: %w", err)
	}
	s.logger.Debug().Float64("timestamp", timestamp).Msg("Logged audit")
	return timestamp, nil
}

// RemoveAudit deletes and returns the audit stored at the timestamp, or
// nil when no audit is stored there.
func (s *AuditStorage) RemoveAudit(ctx context.Context, timestamp float64) (models.Audit, error) {
	member, err := s.memberAt(ctx, timestamp)
	if err != nil || member == "" {
		return nil, err
	}
	if err := s.client.ZRem(ctx, auditsKey, member).Err(); err != nil {
		return nil, fmt.Errorf("failed to remove audit: %w", err)
	}
	return models.DecodeAudit([]byte(member))
}

// UpdateAudit applies fn to the audit stored at the timestamp and writes
// the result back under the same score. Returns false when no audit is
// stored there.
func (s *AuditStorage) UpdateAudit(ctx context.Context, timestamp float64, fn func(models.Audit) models.Audit) (bool, error) {
	member, err := s.memberAt(ctx, timestamp)
	if err != nil || member == "" {
		return false, err
	}

	audit, err := models.DecodeAudit([]byte(member))
	if err != nil {
		return false, err
	}
	encoded, err := fn(audit).Encode()
	if err != nil {
		return false, fmt.Errorf("failed to encode audit: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, auditsKey, member)
	pipe.ZAdd(ctx, auditsKey, redis.Z{Score: timestamp, Member: string(encoded)})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to update audit: %w", err)
	}
	return true, nil
}

// GetAudits returns the audits stored between the two epoch timestamps,
// inclusive, ordered by timestamp.
func (s *AuditStorage) GetAudits(ctx context.Context, from, until float64) ([]models.Audit, error) {
	members, err := s.client.ZRangeByScore(ctx, auditsKey, &redis.ZRangeBy{
		Min: score(from),
		Max: score(until),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get audits: %w", err)
	}

	audits := make([]models.Audit, 0, len(members))
	for _, member := range members {
		audit, err := models.DecodeAudit([]byte(member))
		if err != nil {
			return nil, err
		}
		audits = append(audits, audit)
	}
	return audits, nil
}

// Close closes the client connection.
func (s *AuditStorage) Close() error {
	return s.client.Close()
}

// memberAt returns the member stored at exactly the given score, or the
// empty string when there is none.
func (s *AuditStorage) memberAt(ctx context.Context, timestamp float64) (string, error) {
	members, err := s.client.ZRangeByScore(ctx, auditsKey, &redis.ZRangeBy{
		Min: score(timestamp),
		Max: score(timestamp),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to get audit: %w", err)
	}
	if len(members) == 0 {
		return "", nil
	}
	return members[0], nil
}

// score formats an epoch timestamp the way the sorted set expects it.
func score(timestamp float64) string {
	return strconv.FormatFloat(timestamp, 'f', -1, 64)
}
