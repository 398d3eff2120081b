package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultStream = "engram:events"

// StreamBus mirrors every event onto a capped Redis stream so external
// observers can tail the system without touching its HTTP surface.
type StreamBus struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger

	ch     chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStreamBus connects to Redis and starts the background writer.
func NewStreamBus(redisURL, stream string, logger *zap.Logger) (*StreamBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if stream == "" {
		stream = defaultStream
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &StreamBus{
		rdb:    rdb,
		stream: stream,
		maxLen: 10000,
		logger: logger,
		ch:     make(chan Event, 256),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.run(ctx)
	return b, nil
}

// Emit enqueues the event for the background writer. Events are dropped
// rather than blocking the emitting component when the buffer is full.
func (b *StreamBus) Emit(ev Event) {
	select {
	case b.ch <- ev:
	default:
		b.logger.Warn("event stream buffer full, dropping event",
			zap.String("type", ev.Type))
	}
}

func (b *StreamBus) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			err = b.rdb.XAdd(ctx, &redis.XAddArgs{
				Stream: b.stream,
				MaxLen: b.maxLen,
				Approx: true,
				Values: map[string]interface{}{
					"data": string(data),
				},
			}).Err()
			if err != nil && ctx.Err() == nil {
				b.logger.Warn("event stream write failed", zap.Error(err))
			}
		}
	}
}

// Subscribe tails the stream from now on. Cancel the context to stop;
// the returned channel closes when the tail loop exits.
func (b *StreamBus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{b.stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- ev
					}
				}
			}
		}
	}()

	return ch
}

// Close stops the writer and releases the Redis connection.
func (b *StreamBus) Close() error {
	b.cancel()
	<-b.done
	return b.rdb.Close()
}
