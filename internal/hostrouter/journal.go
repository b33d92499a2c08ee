package hostrouter

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

// Default journal stream settings.
const (
	DefaultStream       = "kdvdbridge:actions"
	DefaultStreamMaxLen = 10000
)

// Journal records action envelopes accepted by the router.
type Journal interface {
	Append(ctx context.Context, env protocol.Envelope) error
}

// RecentJournal is a Journal that can list its latest entries.
type RecentJournal interface {
	Journal
	Recent(ctx context.Context, count int64) ([]protocol.Envelope, error)
}

// RedisJournal appends envelopes to a Redis stream trimmed to roughly
// MaxLen entries.
type RedisJournal struct {
	rdb    redis.Cmdable
	stream string
	maxLen int64
}

// NewRedisJournal creates a journal on stream. Empty stream and
// non-positive maxLen select the defaults.
func NewRedisJournal(rdb redis.Cmdable, stream string, maxLen int64) *RedisJournal {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisJournal{rdb: rdb, stream: stream, maxLen: maxLen}
}

// Append adds env to the stream.
func (j *RedisJournal) Append(ctx context.Context, env protocol.Envelope) error {
	args := &redis.XAddArgs{
		Stream: j.stream,
		ID:     "*",
		MaxLen: j.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":      env.Type,
			"payload":   string(env.Payload),
			"timestamp": env.Timestamp,
		},
	}

	if err := j.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("adding envelope to stream %s: %w", j.stream, err)
	}
	return nil
}

// Recent returns up to count envelopes, newest first.
func (j *RedisJournal) Recent(ctx context.Context, count int64) ([]protocol.Envelope, error) {
	msgs, err := j.rdb.XRevRangeN(ctx, j.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("reading stream %s: %w", j.stream, err)
	}

	envs := make([]protocol.Envelope, 0, len(msgs))
	for _, msg := range msgs {
		env, err := envelopeFromValues(msg.Values)
		if err != nil {
			return nil, fmt.Errorf("invalid journal entry %s: %w", msg.ID, err)
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func envelopeFromValues(values map[string]any) (protocol.Envelope, error) {
	typ, ok := values["type"].(string)
	if !ok {
		return protocol.Envelope{}, errors.New("missing type")
	}
	payload, ok := values["payload"].(string)
	if !ok {
		return protocol.Envelope{}, errors.New("missing payload")
	}
	rawTS, ok := values["timestamp"].(string)
	if !ok {
		return protocol.Envelope{}, errors.New("missing timestamp")
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("parsing timestamp: %w", err)
	}

	return protocol.Envelope{Type: typ, Payload: []byte(payload), Timestamp: ts}, nil
}
