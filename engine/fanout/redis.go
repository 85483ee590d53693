package fanout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skeinworks/skein/engine/event"
	"github.com/skeinworks/skein/engine/exec"
)

// publishTimeout bounds one mirror publish so a wedged Redis cannot stall
// the journal writer.
const publishTimeout = 2 * time.Second

// RedisMirror republishes every journal record to a per-execution Redis
// channel ({prefix}{executionId}) so fan-out daemons in other processes
// can serve sockets without touching this process.
type RedisMirror struct {
	client *redis.Client
	prefix string
	log    exec.Logger
}

// NewRedisMirror verifies connectivity and returns the mirror
func NewRedisMirror(ctx context.Context, addr, password string, db int, prefix string, log exec.Logger) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	log.Info("redis event mirror connected", "addr", addr, "prefix", prefix)
	return &RedisMirror{client: client, prefix: prefix, log: log}, nil
}

// Publish mirrors one record. Failures are logged and swallowed; the
// journal file remains the durable copy.
func (m *RedisMirror) Publish(executionID string, rec event.Record) {
	raw, err := json.Marshal(rec)
	if err != nil {
		m.log.Error("encode mirrored record", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := m.client.Publish(ctx, m.prefix+executionID, raw).Err(); err != nil {
		m.log.Warn("mirror publish failed", "execution_id", executionID, "error", err)
	}
}

// Close releases the Redis connection
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
