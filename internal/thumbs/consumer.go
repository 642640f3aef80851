package thumbs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Consumer reads upload notifications from a Redis Stream consumer group
// and runs the processor on each. Failed messages stay pending and are
// reclaimed on the next startup; that redelivery is the pipeline's retry
// mechanism.
type Consumer struct {
	client    redis.UniversalClient
	processor *Processor
	stream    string
	group     string
	name      string
}

// NewConsumer creates a stream consumer with a unique consumer name.
func NewConsumer(client redis.UniversalClient, processor *Processor, stream, group string) *Consumer {
	return &Consumer{
		client:    client,
		processor: processor,
		stream:    stream,
		group:     group,
		name:      "closetd-" + uuid.NewString()[:8],
	}
}

// Enqueue publishes one thumbnail job for an upload key.
func Enqueue(ctx context.Context, client redis.UniversalClient, stream, key string) error {
	err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"body": fmt.Sprintf(`{"key":%q}`, key)},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue thumbnail job: %w", err)
	}
	return nil
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.reclaim(ctx)

	for {
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, ">"},
			Count:    16,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			log.Warnf("thumbnail stream read failed: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handle(ctx, msg)
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// reclaim takes over messages a dead consumer left pending.
func (c *Consumer) reclaim(ctx context.Context) {
	start := "0-0"
	for {
		msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.name,
			MinIdle:  time.Minute,
			Start:    start,
			Count:    64,
		}).Result()
		if err != nil {
			log.Warnf("thumbnail stream reclaim failed: %v", err)
			return
		}
		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
		if next == "0-0" || len(msgs) == 0 {
			return
		}
		start = next
	}
}

// handle processes one message. Malformed bodies are acked and dropped;
// redelivering them forever helps nobody. Processing failures leave the
// message pending for redelivery.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	key := messageKey(msg)
	if key == "" {
		log.Warnf("dropping malformed thumbnail job %s: %v", msg.ID, msg.Values)
		c.ack(ctx, msg.ID)
		return
	}
	if err := c.processor.Process(ctx, key); err != nil {
		log.WithField("key", key).Warnf("thumbnail job failed, leaving for redelivery: %v", err)
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		log.Warnf("ack thumbnail job %s failed: %v", id, err)
	}
}

// messageKey extracts the object key from a job message. The body field
// carries `{"key":...}` or the fuller `{"bucket":...,"key":...}`; a bare
// key field is also accepted.
func messageKey(msg redis.XMessage) string {
	if body, ok := msg.Values["body"].(string); ok {
		if key := gjson.Get(body, "key").String(); key != "" {
			return key
		}
	}
	if key, ok := msg.Values["key"].(string); ok {
		return key
	}
	return ""
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
