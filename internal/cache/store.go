package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	timestampPrefix    = "resource-timestamps:"
	resourceUsersKey   = "resource-users:"
	userResourcesKey   = "user-resources:"
	DefaultChannel     = "resource-updates"
	weakValidatorQuote = `W/"`
)

// Validator renders a timestamp as a weak entity tag.
func Validator(ts int64) string {
	return weakValidatorQuote + strconv.FormatInt(ts, 10) + `"`
}

// Update is published on every timestamp write.
type Update struct {
	Key       string `json:"key"`
	Timestamp string `json:"timestamp"`
}

// bumpScript stores max(now, current+1) so a write within the same second as
// the previous mint still yields a new validator.
var bumpScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', KEYS[1]) or '0') or 0
local nxt = now
if current >= now then
	nxt = current + 1
end
if ttl > 0 then
	redis.call('SET', KEYS[1], nxt, 'EX', ttl)
else
	redis.call('SET', KEYS[1], nxt)
end
return nxt
`)

type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	channel string
	now     func() time.Time
}

type StoreOptions struct {
	TTL     time.Duration
	Channel string
}

func NewRedisStore(client *redis.Client, opts StoreOptions) *RedisStore {
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	return &RedisStore{client: client, ttl: opts.TTL, channel: opts.Channel, now: time.Now}
}

// Current returns the key's timestamp, minting one when absent.
func (s *RedisStore) Current(ctx context.Context, key string) (int64, error) {
	raw, err := s.client.Get(ctx, timestampPrefix+key).Result()
	if err == nil {
		ts, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr == nil {
			return ts, nil
		}
		return s.Bump(ctx, key)
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("get timestamp %s: %w", key, err)
	}

	minted := s.now().Unix()
	ok, err := s.client.SetNX(ctx, timestampPrefix+key, minted, s.ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("mint timestamp %s: %w", key, err)
	}
	if ok {
		s.publish(ctx, key, minted)
		return minted, nil
	}
	raw, err = s.client.Get(ctx, timestampPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return minted, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get timestamp %s: %w", key, err)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Bump writes a new timestamp strictly greater than the previous one and
// publishes it.
func (s *RedisStore) Bump(ctx context.Context, key string) (int64, error) {
	ts, err := bumpScript.Run(ctx, s.client, []string{timestampPrefix + key}, s.now().Unix(), int64(s.ttl/time.Second)).Int64()
	if err != nil {
		return 0, fmt.Errorf("bump timestamp %s: %w", key, err)
	}
	s.publish(ctx, key, ts)
	return ts, nil
}

// Delete drops the key; the next read mints a fresh timestamp.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, timestampPrefix+key)
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("delete timestamps: %w", err)
	}
	return nil
}

// RecordReader notes that userID read key, for targeted notification.
func (s *RedisStore) RecordReader(ctx context.Context, key, userID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, resourceUsersKey+key, userID)
		pipe.SAdd(ctx, userResourcesKey+userID, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record reader %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Readers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, resourceUsersKey+key).Result()
}

func (s *RedisStore) publish(ctx context.Context, key string, ts int64) {
	payload, err := json.Marshal(Update{Key: key, Timestamp: Validator(ts)})
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		getMetrics().storeErrors.WithLabelValues("publish").Inc()
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Subscribe streams updates from the channel until ctx is done.
func (s *RedisStore) Subscribe(ctx context.Context) (<-chan Update, func() error) {
	sub := s.client.Subscribe(ctx, s.channel)
	out := make(chan Update)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var update Update
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				continue
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, sub.Close
}
