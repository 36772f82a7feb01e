package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "voicechat:chat:"

// Redis keys:
//
//	voicechat:chats              sorted set of ids scored by creation time (ms)
//	voicechat:chat:{id}          hash holding created_at
//	voicechat:chat:{id}:messages list of JSON-encoded messages
const redisIndexKey = "voicechat:chats"

// appendScript pushes a message only when the session hash exists, so the
// existence check and the push are one atomic step.
var appendScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("RPUSH", KEYS[2], ARGV[1])
return 1
`)

// RedisStore persists chat sessions in Redis.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func metaKey(id string) string     { return redisKeyPrefix + id }
func messagesKey(id string) string { return redisKeyPrefix + id + ":messages" }

func (s *RedisStore) Create(ctx context.Context) (string, error) {
	id := uuid.NewString()
	// The index score keeps milliseconds; the hash must agree with it.
	now := time.Now().UTC().Truncate(time.Millisecond)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, metaKey(id), "created_at", now.Format(time.RFC3339Nano))
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(now.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Append(ctx context.Context, id string, msg Message) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("marshal message: %w", err)
	}
	n, err := appendScript.Run(ctx, s.client, []string{metaKey(id), messagesKey(id)}, string(payload)).Int()
	if err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Session{}, ErrNotFound
	}

	pipe := s.client.Pipeline()
	createdCmd := pipe.HGet(ctx, metaKey(id), "created_at")
	msgsCmd := pipe.LRange(ctx, messagesKey(id), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Session{}, fmt.Errorf("get chat: %w", err)
	}

	created, err := createdCmd.Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get chat: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Session{}, fmt.Errorf("decode created_at: %w", err)
	}

	raw, err := msgsCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Session{}, fmt.Errorf("get messages: %w", err)
	}
	sess := Session{ID: id, CreatedAt: createdAt, Messages: make([]Message, 0, len(raw))}
	for i, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return Session{}, fmt.Errorf("decode message %d: %w", i, err)
		}
		sess.Messages = append(sess.Messages, m)
	}
	return sess, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Summary, error) {
	entries, err := s.client.ZRangeWithScores(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	out := make([]Summary, 0, len(entries))
	for _, z := range entries {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, Summary{ID: id, CreatedAt: time.UnixMilli(int64(z.Score)).UTC()})
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	pipe := s.client.TxPipeline()
	removed := pipe.ZRem(ctx, redisIndexKey, id)
	pipe.Del(ctx, metaKey(id), messagesKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("delete chat: %w", err)
	}
	return removed.Val() > 0, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
