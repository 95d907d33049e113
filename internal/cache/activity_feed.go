package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"credvault/internal/event"
)

const activityKey = "auth:activity"

// ActivityEntry is the public view of one auth event; the email is masked.
type ActivityEntry struct {
	Type    event.Type `json:"type"`
	Account string     `json:"account"`
	At      time.Time  `json:"at"`
}

// ActivityFeed keeps the most recent auth events in a capped Redis list.
type ActivityFeed struct {
	client *redisv9.Client
	max    int64
	ttl    time.Duration
}

func NewActivityFeed(client *redisv9.Client, max int, ttl time.Duration) *ActivityFeed {
	if max <= 0 {
		max = 100
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &ActivityFeed{
		client: client,
		max:    int64(max),
		ttl:    ttl,
	}
}

func (f *ActivityFeed) Append(ctx context.Context, evt event.AuthEvent) error {
	payload, err := json.Marshal(ActivityEntry{
		Type:    evt.Type,
		Account: event.MaskEmail(evt.Email),
		At:      evt.At.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal activity entry failed: %w", err)
	}

	pipe := f.client.TxPipeline()
	pipe.LPush(ctx, activityKey, payload)
	pipe.LTrim(ctx, activityKey, 0, f.max-1)
	pipe.Expire(ctx, activityKey, f.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append activity failed: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (f *ActivityFeed) Recent(ctx context.Context, limit int) ([]ActivityEntry, error) {
	if limit <= 0 || int64(limit) > f.max {
		limit = int(f.max)
	}
	raw, err := f.client.LRange(ctx, activityKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read activity failed: %w", err)
	}

	entries := make([]ActivityEntry, 0, len(raw))
	for _, item := range raw {
		var entry ActivityEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal activity entry failed: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
