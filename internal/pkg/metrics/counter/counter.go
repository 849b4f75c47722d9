package counter

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const webhookOutcomesKey = "billing:counters:webhook_outcomes"

// Entry is one event type/outcome pair and how often it was seen.
type Entry struct {
	EventType string `json:"event_type"`
	Outcome   string `json:"outcome"`
	Count     int64  `json:"count"`
}

// Counter keeps per-outcome tallies in a redis hash so every replica adds to
// the same totals.
type Counter struct {
	client *redis.Client
	key    string
}

func NewWebhookCounter(client *redis.Client) *Counter {
	return &Counter{client: client, key: webhookOutcomesKey}
}

func field(eventType, outcome string) string {
	if eventType == "" {
		eventType = "unknown"
	}
	return eventType + "|" + outcome
}

// Add increments the tally for one delivery.
func (c *Counter) Add(ctx context.Context, eventType, outcome string) error {
	return c.client.HIncrBy(ctx, c.key, field(eventType, outcome), 1).Err()
}

// Snapshot returns the current tallies, largest first.
func (c *Counter) Snapshot(ctx context.Context) ([]Entry, error) {
	data, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, err
	}
	return parse(data), nil
}

func parse(data map[string]string) []Entry {
	entries := make([]Entry, 0, len(data))
	for k, v := range data {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n == 0 {
			continue
		}
		eventType, outcome, ok := strings.Cut(k, "|")
		if !ok {
			continue
		}
		entries = append(entries, Entry{EventType: eventType, Outcome: outcome, Count: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return field(entries[i].EventType, entries[i].Outcome) < field(entries[j].EventType, entries[j].Outcome)
	})
	return entries
}
