// Package activity keeps the dashboard's bounded recent-activity feed and
// the realtime notification fan-out, both on Redis. The feed is display
// state only; the attendance engines never read it.
package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one line in the recent-activity feed.
type Entry struct {
	Kind        string    `json:"kind"` // "checkin" or "checkout"
	Outcome     string    `json:"outcome"`
	StudentName string    `json:"student_name,omitempty"`
	StudentCode string    `json:"student_code,omitempty"`
	ParentName  string    `json:"parent_name,omitempty"`
	Message     string    `json:"message,omitempty"`
	At          time.Time `json:"at"`
}

// Feed is a capped Redis list, newest first.
type Feed struct {
	client  *redis.Client
	key     string
	channel string
	limit   int64
}

// NewFeed creates a feed capped at limit entries.
func NewFeed(client *redis.Client, key, channel string, limit int) *Feed {
	if key == "" {
		key = "startrak:activity"
	}
	if channel == "" {
		channel = "startrak:attendance"
	}
	if limit <= 0 {
		limit = 50
	}
	return &Feed{client: client, key: key, channel: channel, limit: int64(limit)}
}

// Append pushes an entry and trims the list back to its cap.
func (f *Feed) Append(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := f.client.TxPipeline()
	pipe.LPush(ctx, f.key, body)
	pipe.LTrim(ctx, f.key, 0, f.limit-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to n entries, newest first.
func (f *Feed) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 || int64(n) > f.limit {
		n = int(f.limit)
	}
	raw, err := f.client.LRange(ctx, f.key, 0, int64(n)-1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Notify publishes an entry on the pub/sub channel so open dashboards can
// refresh. Subscribers that miss a message just refresh on the next one.
func (f *Feed) Notify(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, body).Err()
}
