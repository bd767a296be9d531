package replay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/sigmavirus24/sfstreaming"
)

// RedisConfig configures a RedisStorage. Defaults can be loaded via
// envdecode.
type RedisConfig struct {
	// Addr like "localhost:6379". ENV: SFSTREAM_REDIS_ADDR
	Addr string `env:"SFSTREAM_REDIS_ADDR,default=localhost:6379"`
	// Password for AUTH. ENV: SFSTREAM_REDIS_PASSWORD
	Password string `env:"SFSTREAM_REDIS_PASSWORD"`
	// DB number. ENV: SFSTREAM_REDIS_DB
	DB int `env:"SFSTREAM_REDIS_DB,default=0"`
	// KeyPrefix for all keys. ENV: SFSTREAM_REDIS_KEY_PREFIX
	KeyPrefix string `env:"SFSTREAM_REDIS_KEY_PREFIX,default=sfstream:replay:"`
}

// RedisConfigFromEnv loads a RedisConfig from the environment
func RedisConfigFromEnv() RedisConfig {
	var cfg RedisConfig
	// Defaults are provided via struct tags; nothing being set is fine.
	_ = envdecode.Decode(&cfg)
	return cfg
}

// storeIfNewer keeps the entry of the most recently created event. KEYS[1]
// is the channel hash; ARGV is replay id then creation time in unix seconds.
var storeIfNewer = redis.NewScript(`
local current = redis.call('HMGET', KEYS[1], 'created', 'id')
local id = tonumber(ARGV[1])
local created = tonumber(ARGV[2])
if current[1] then
	local stored = tonumber(current[1])
	if stored > created or (stored == created and tonumber(current[2]) >= id) then
		return 0
	end
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'created', ARGV[2])
return 1
`)

// RedisStorage implements the Storer interface on top of Redis so several
// processes, or a restarted one, resume from the same position
type RedisStorage struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStorage connects to Redis and checks it answers
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	return NewRedisStorageWithClient(ctx, client, cfg.KeyPrefix)
}

// NewRedisStorageWithClient uses an already configured client
func NewRedisStorageWithClient(ctx context.Context, client *redis.Client, keyPrefix string) (*RedisStorage, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if keyPrefix == "" {
		keyPrefix = "sfstream:replay:"
	}
	return &RedisStorage{client: client, keyPrefix: keyPrefix}, nil
}

// Close closes the Redis client
func (s *RedisStorage) Close() error { return s.client.Close() }

func (s *RedisStorage) key(channel sfstreaming.Channel) string {
	return s.keyPrefix + string(channel)
}

// StoreReplayID implements the Storer interface
func (s *RedisStorage) StoreReplayID(ctx context.Context, channel sfstreaming.Channel, replayID int64, created time.Time) error {
	return storeIfNewer.Run(ctx, s.client, []string{s.key(channel)}, replayID, created.Unix()).Err()
}

// LastReplayID implements the Storer interface
func (s *RedisStorage) LastReplayID(ctx context.Context, channel sfstreaming.Channel) (ReplayID, bool, error) {
	raw, err := s.client.HGet(ctx, s.key(channel), "id").Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	replayID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("stored replay id %q of %s is invalid (%w)", raw, channel, err)
	}
	return ReplayID(replayID), true, nil
}

// Set forces the replay position of channel, for example to AllEvents. Any
// event stored afterwards replaces it.
func (s *RedisStorage) Set(ctx context.Context, channel sfstreaming.Channel, replayID ReplayID) error {
	key := s.key(channel)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "id", int64(replayID))
		return nil
	})
	return err
}

// Delete forgets channel
func (s *RedisStorage) Delete(ctx context.Context, channel sfstreaming.Channel) error {
	return s.client.Del(ctx, s.key(channel)).Err()
}
