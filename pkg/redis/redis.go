// Package redis provides a thin adapter over go-redis so the scheduler's
// locking and event-stream code depends on a narrow interface that miniredis
// can stand behind in tests.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var NilError = goredis.Nil

type Options = goredis.UniversalOptions

// StreamMessage is one entry read back from a redis stream.
type StreamMessage struct {
	ID     string
	Values map[string]interface{}
}

// Adapter covers the subset of redis the scheduler uses: plain keys for the
// dispatch claim lock and streams for the outcome event feed.
type Adapter interface {
	Set(key string, value []byte, ttl time.Duration) error
	SetNX(key string, value []byte, ttl time.Duration) (bool, error)
	Get(key string) ([]byte, error)
	Del(key string) error
	Exist(key string) (int64, error)

	XAdd(key string, values map[string]interface{}) (string, error)
	XLen(key string) (int64, error)
	XRange(key, start, stop string, count int64) ([]StreamMessage, error)
	XTrimApprox(key string, maxLen int64) error

	Client() goredis.UniversalClient
}

type adapter struct {
	prefix string
	conn   goredis.UniversalClient
	name   string
}

var (
	instanceMu sync.RWMutex
	instances  map[string]Adapter
)

// NewAdapter connects (or returns the cached connection for connName) and
// pings before handing the adapter out.
func NewAdapter(connName, keysPrefix string, opts *goredis.UniversalOptions) (Adapter, error) {
	instanceMu.RLock()
	if a, ok := instances[connName]; ok {
		instanceMu.RUnlock()
		return a, nil
	}
	instanceMu.RUnlock()

	c := goredis.NewUniversalClient(opts)
	if cmd := c.Ping(context.Background()); cmd.Err() != nil {
		return nil, cmd.Err()
	}

	a := &adapter{conn: c, prefix: keysPrefix, name: connName}

	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instances == nil {
		instances = make(map[string]Adapter)
	}
	if existing, ok := instances[connName]; ok {
		_ = c.Close()
		return existing, nil
	}
	instances[connName] = a
	return a, nil
}

func GetRedis(connName ...string) Adapter {
	instanceMu.RLock()
	defer instanceMu.RUnlock()

	name := "default"
	if len(connName) > 0 && connName[0] != "" {
		name = connName[0]
	}
	if a, ok := instances[name]; ok {
		return a
	}
	panic(fmt.Sprintf("redis adapter %q is not initialized", name))
}

func (a *adapter) key(k string) string {
	if a.prefix == "" {
		return k
	}
	return a.prefix + k
}

func (a *adapter) Set(key string, value []byte, ttl time.Duration) error {
	return a.conn.Set(context.Background(), a.key(key), value, ttl).Err()
}

func (a *adapter) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	return a.conn.SetNX(context.Background(), a.key(key), value, ttl).Result()
}

func (a *adapter) Get(key string) ([]byte, error) {
	return a.conn.Get(context.Background(), a.key(key)).Bytes()
}

func (a *adapter) Del(key string) error {
	return a.conn.Del(context.Background(), a.key(key)).Err()
}

func (a *adapter) Exist(key string) (int64, error) {
	return a.conn.Exists(context.Background(), a.key(key)).Result()
}

func (a *adapter) XAdd(key string, values map[string]interface{}) (string, error) {
	return a.conn.XAdd(context.Background(), &goredis.XAddArgs{
		Stream: a.key(key),
		Values: values,
	}).Result()
}

func (a *adapter) XLen(key string) (int64, error) {
	return a.conn.XLen(context.Background(), a.key(key)).Result()
}

func (a *adapter) XRange(key, start, stop string, count int64) ([]StreamMessage, error) {
	msgs, err := a.conn.XRangeN(context.Background(), a.key(key), start, stop, count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]StreamMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, StreamMessage{ID: m.ID, Values: m.Values})
	}
	return out, nil
}

func (a *adapter) XTrimApprox(key string, maxLen int64) error {
	return a.conn.XTrimMaxLenApprox(context.Background(), a.key(key), maxLen, 0).Err()
}

func (a *adapter) Client() goredis.UniversalClient {
	return a.conn
}
