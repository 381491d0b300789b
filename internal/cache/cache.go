package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"mnemo/internal/config"
	"mnemo/internal/observability"
)

// Section TTLs for the prompt-section cache. A zero TTL means the section is
// never cached.
var sectionTTLs = map[string]time.Duration{
	"core_identity":      time.Hour,
	"operational_config": 30 * time.Minute,
	"dynamic_context":    5 * time.Minute,
	"per_turn":           0,
}

const defaultSectionTTL = 5 * time.Minute

// ErrMissingUserID is returned by cache operations invoked without a user id.
// A key without a user scope is a bug, never a fallback.
var ErrMissingUserID = errors.New("cache key requires user id")

// Client wraps the shared redis connection for caches and leases.
type Client struct {
	rdb *redis.Client
}

func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetPromptSection returns the cached section or "" on miss. Read errors are
// logged and reported as a miss so callers fall back to recomputation.
func (c *Client) GetPromptSection(ctx context.Context, sectionType, userID, conversationID, contextHash string) (string, bool) {
	if userID == "" {
		observability.LoggerWithTrace(ctx).Error().Str("section", sectionType).Msg("prompt section read without user id")
		return "", false
	}
	key := PromptSectionKey(sectionType, userID, conversationID, contextHash)
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("key", key).Msg("prompt section cache read failed")
		return "", false
	}
	return val, true
}

// SetPromptSection writes the section best-effort. Write failures are logged,
// never returned; a missing user id is returned as ErrMissingUserID; a
// section with zero TTL is not cached at all.
func (c *Client) SetPromptSection(ctx context.Context, sectionType, userID, conversationID, contextHash, value string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	ttl, ok := sectionTTLs[sectionType]
	if !ok {
		ttl = defaultSectionTTL
	}
	if ttl == 0 {
		return nil
	}
	key := PromptSectionKey(sectionType, userID, conversationID, contextHash)
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("key", key).Msg("prompt section cache write failed")
	}
	return nil
}

// GetTurnContext returns the stored turn context or "" when absent.
func (c *Client) GetTurnContext(ctx context.Context, userID, conversationID string) (string, error) {
	if userID == "" {
		return "", ErrMissingUserID
	}
	val, err := c.rdb.Get(ctx, TurnContextKey(userID, conversationID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) SetTurnContext(ctx context.Context, userID, conversationID, value string, ttl time.Duration) error {
	if userID == "" {
		return ErrMissingUserID
	}
	return c.rdb.Set(ctx, TurnContextKey(userID, conversationID), value, ttl).Err()
}

// ClearConversationTimeout removes the frontend's conversation-timeout marker
// so a stale timer cannot re-trigger ingestion.
func (c *Client) ClearConversationTimeout(ctx context.Context, userID, conversationID string) {
	if userID == "" {
		return
	}
	if err := c.rdb.Del(ctx, ConversationTimeoutKey(userID, conversationID)).Err(); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("clear conversation timeout failed")
	}
}

// GetSharedEmbedding returns a cached phrase embedding, or nil on miss.
// Read errors degrade to a miss.
func (c *Client) GetSharedEmbedding(ctx context.Context, userID, phrase string) ([]float32, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	raw, err := c.rdb.Get(ctx, SharedEmbeddingKey(userID, phrase)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("shared embedding cache read failed")
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, nil
	}
	return vec, nil
}

// SetSharedEmbedding stores a phrase embedding best-effort.
func (c *Client) SetSharedEmbedding(ctx context.Context, userID, phrase string, vec []float32, ttl time.Duration) error {
	if userID == "" {
		return ErrMissingUserID
	}
	b, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, SharedEmbeddingKey(userID, phrase), b, ttl).Err(); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("shared embedding cache write failed")
	}
	return nil
}

// AcquireIngestionLock takes the per-conversation lease that serializes
// ingestion of one conversation. Returns false when another job holds it.
func (c *Client) AcquireIngestionLock(ctx context.Context, userID, conversationID string, ttl time.Duration) (bool, error) {
	if userID == "" {
		return false, ErrMissingUserID
	}
	return c.rdb.SetNX(ctx, IngestionLockKey(userID, conversationID), "1", ttl).Result()
}

func (c *Client) ReleaseIngestionLock(ctx context.Context, userID, conversationID string) {
	if userID == "" {
		return
	}
	if err := c.rdb.Del(ctx, IngestionLockKey(userID, conversationID)).Err(); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("release ingestion lock failed")
	}
}
