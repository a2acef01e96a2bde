package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qivo-mining/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("normalized data not found")

const urlScheme = "redis://"

// KV is the subset of the Redis API the store needs.
type KV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NormalizedStore keeps parser output in Redis as JSON, one key per report.
type NormalizedStore struct {
	client KV
	ttl    time.Duration
}

// NewNormalizedStore returns a store; ttl <= 0 keeps entries forever.
func NewNormalizedStore(client KV, ttl time.Duration) *NormalizedStore {
	if ttl < 0 {
		ttl = 0
	}
	return &NormalizedStore{client: client, ttl: ttl}
}

func normalizedKey(tenantID, reportID string) string {
	return fmt.Sprintf("normalized:%s:%s", tenantID, reportID)
}

// URLFor is the location recorded on the report for its normalized data.
func URLFor(tenantID, reportID string) string {
	return urlScheme + normalizedKey(tenantID, reportID)
}

// KeyFromURL reverses URLFor.
func KeyFromURL(url string) (string, bool) {
	if !strings.HasPrefix(url, urlScheme) {
		return "", false
	}
	return strings.TrimPrefix(url, urlScheme), true
}

func (s *NormalizedStore) SaveNormalized(ctx context.Context, data map[string]interface{}, tenantID, reportID string) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding normalized data: %w", err)
	}

	key := normalizedKey(tenantID, reportID)
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("writing normalized data: %w", err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"report_id": reportID,
		"tenant_id": tenantID,
		"bytes":     len(payload),
	}).Debug("Stored normalized data")
	return URLFor(tenantID, reportID), nil
}

func (s *NormalizedStore) LoadNormalized(ctx context.Context, tenantID, reportID string) (map[string]interface{}, error) {
	raw, err := s.client.Get(ctx, normalizedKey(tenantID, reportID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading normalized data: %w", err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding normalized data: %w", err)
	}
	return data, nil
}

func (s *NormalizedStore) DeleteNormalized(ctx context.Context, tenantID, reportID string) error {
	return s.client.Del(ctx, normalizedKey(tenantID, reportID)).Err()
}
