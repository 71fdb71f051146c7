// chatguard/pkg/store/redis_store.go

package store

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"rgehrsitz/chatguard/pkg/logging"
)

const (
	pointsPrefix = "points:"
	dataPrefix   = "data:"
)

// removePointsScript decrements a hash field without going below zero and
// drops the field once it reaches zero.
var removePointsScript = redis.NewScript(`
local current = tonumber(redis.call("HGET", KEYS[1], ARGV[1]) or "0")
local remaining = current - tonumber(ARGV[2])
if remaining <= 0 then
	redis.call("HDEL", KEYS[1], ARGV[1])
	return 0
end
redis.call("HSET", KEYS[1], ARGV[1], remaining)
return remaining
`)

type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	logging.Logger.Info().Str("addr", addr).Int("db", db).Msg("Connecting to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, logging.NewError(logging.ErrorTypeStore, "failed to connect to Redis", err, map[string]interface{}{"addr": addr})
	}

	logging.Logger.Info().Msg("Successfully connected to Redis")
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func storeError(message string, err error, fields map[string]interface{}) error {
	logging.Logger.Error().Err(err).Fields(fields).Msg(message)
	return logging.NewError(logging.ErrorTypeStore, message, err, fields)
}

func (s *RedisStore) AddPoints(ctx context.Context, senderID, set string, amount int64) (int64, error) {
	total, err := s.client.HIncrBy(ctx, pointsPrefix+senderID, set, amount).Result()
	if err != nil {
		return 0, storeError("Failed to add points", err, map[string]interface{}{"sender": senderID, "set": set})
	}
	logging.Logger.Debug().Str("sender", senderID).Str("set", set).Int64("amount", amount).Int64("total", total).Msg("Added points")
	return total, nil
}

// RemovePoints subtracts amount, floored at zero, and returns the new total.
func (s *RedisStore) RemovePoints(ctx context.Context, senderID, set string, amount int64) (int64, error) {
	total, err := removePointsScript.Run(ctx, s.client, []string{pointsPrefix + senderID}, set, amount).Int64()
	if err != nil {
		return 0, storeError("Failed to remove points", err, map[string]interface{}{"sender": senderID, "set": set})
	}
	return total, nil
}

func (s *RedisStore) GetPoints(ctx context.Context, senderID, set string) (int64, error) {
	total, err := s.client.HGet(ctx, pointsPrefix+senderID, set).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, storeError("Failed to get points", err, map[string]interface{}{"sender": senderID, "set": set})
	}
	return total, nil
}

func (s *RedisStore) ListPoints(ctx context.Context, senderID string) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, pointsPrefix+senderID).Result()
	if err != nil {
		return nil, storeError("Failed to list points", err, map[string]interface{}{"sender": senderID})
	}

	points := make(map[string]int64, len(raw))
	for set, value := range raw {
		total, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, storeError("Malformed point total", err, map[string]interface{}{"sender": senderID, "set": set})
		}
		points[set] = total
	}
	return points, nil
}

// SetData stores value as JSON. A nil value deletes the key.
func (s *RedisStore) SetData(ctx context.Context, senderID, key string, value interface{}) error {
	if value == nil {
		return s.DeleteData(ctx, senderID, key)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return logging.NewError(logging.ErrorTypeStore, "failed to marshal data value", err, map[string]interface{}{"sender": senderID, "key": key})
	}
	if err := s.client.HSet(ctx, dataPrefix+senderID, key, data).Err(); err != nil {
		return storeError("Failed to set data", err, map[string]interface{}{"sender": senderID, "key": key})
	}
	return nil
}

// GetData returns nil without an error when the key is not set.
func (s *RedisStore) GetData(ctx context.Context, senderID, key string) (interface{}, error) {
	data, err := s.client.HGet(ctx, dataPrefix+senderID, key).Result()
	if err == redis.Nil {
		logging.Logger.Debug().Str("sender", senderID).Str("key", key).Msg("Data not found in Redis")
		return nil, nil
	}
	if err != nil {
		return nil, storeError("Failed to get data", err, map[string]interface{}{"sender": senderID, "key": key})
	}

	var value interface{}
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return nil, storeError("Failed to unmarshal data", err, map[string]interface{}{"sender": senderID, "key": key, "data": data})
	}
	return value, nil
}

func (s *RedisStore) AllData(ctx context.Context, senderID string) (map[string]interface{}, error) {
	raw, err := s.client.HGetAll(ctx, dataPrefix+senderID).Result()
	if err != nil {
		return nil, storeError("Failed to get data", err, map[string]interface{}{"sender": senderID})
	}

	values := make(map[string]interface{}, len(raw))
	for key, data := range raw {
		var value interface{}
		if err := json.Unmarshal([]byte(data), &value); err != nil {
			return nil, storeError("Failed to unmarshal data", err, map[string]interface{}{"sender": senderID, "key": key, "data": data})
		}
		values[key] = value
	}
	return values, nil
}

func (s *RedisStore) DeleteData(ctx context.Context, senderID, key string) error {
	if err := s.client.HDel(ctx, dataPrefix+senderID, key).Err(); err != nil {
		return storeError("Failed to delete data", err, map[string]interface{}{"sender": senderID, "key": key})
	}
	return nil
}

// Publish sends payload as JSON, or verbatim when it is already a string or
// byte slice.
func (s *RedisStore) Publish(ctx context.Context, channel string, payload interface{}) error {
	var message interface{}
	switch v := payload.(type) {
	case string, []byte:
		message = v
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return logging.NewError(logging.ErrorTypeStore, "failed to marshal payload", err, map[string]interface{}{"channel": channel})
		}
		message = data
	}
	if err := s.client.Publish(ctx, channel, message).Err(); err != nil {
		return storeError("Failed to publish", err, map[string]interface{}{"channel": channel})
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	logging.Logger.Info().Strs("channels", channels).Msg("Subscribing to Redis channels")

	pubsub := s.client.Subscribe(ctx, channels...)

	// Wait for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, storeError("Failed to subscribe to Redis channels", err, map[string]interface{}{"channels": channels})
	}

	logging.Logger.Info().Strs("channels", channels).Msg("Successfully subscribed to Redis channels")
	return pubsub, nil
}

// ScanSenders returns the IDs of senders that have points or data whose ID
// matches pattern.
func (s *RedisStore) ScanSenders(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]bool)
	var senders []string

	for _, prefix := range []string{pointsPrefix, dataPrefix} {
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, prefix+pattern, 100).Result()
			if err != nil {
				return nil, storeError("Failed to scan senders", err, map[string]interface{}{"pattern": pattern})
			}
			for _, key := range keys {
				id := strings.TrimPrefix(key, prefix)
				if !seen[id] {
					seen[id] = true
					senders = append(senders, id)
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return senders, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
