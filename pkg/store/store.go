// chatguard/pkg/store/store.go

package store

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// PointStore holds escalation point totals per sender and warning set.
type PointStore interface {
	AddPoints(ctx context.Context, senderID, set string, amount int64) (int64, error)
	RemovePoints(ctx context.Context, senderID, set string, amount int64) (int64, error)
	GetPoints(ctx context.Context, senderID, set string) (int64, error)
	ListPoints(ctx context.Context, senderID string) (map[string]int64, error)
}

// DataStore holds the keyed data rules read with "require key" and write
// with "save key".
type DataStore interface {
	SetData(ctx context.Context, senderID, key string, value interface{}) error
	GetData(ctx context.Context, senderID, key string) (interface{}, error)
	AllData(ctx context.Context, senderID string) (map[string]interface{}, error)
	DeleteData(ctx context.Context, senderID, key string) error
}

type Store interface {
	PointStore
	DataStore

	Publish(ctx context.Context, channel string, payload interface{}) error
	Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error)
	ScanSenders(ctx context.Context, pattern string) ([]string, error)
	Close() error
}
