package counter

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounter(t *testing.T) *Counter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWebhookCounter(client)
}

func TestCounterSnapshot(t *testing.T) {
	c := newTestCounter(t)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, "invoice.payment_succeeded", "processed"))
	require.NoError(t, c.Add(ctx, "invoice.payment_succeeded", "processed"))
	require.NoError(t, c.Add(ctx, "charge.refunded", "ignored"))
	require.NoError(t, c.Add(ctx, "", "rejected"))

	entries, err := c.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{EventType: "invoice.payment_succeeded", Outcome: "processed", Count: 2}, entries[0])
	assert.Equal(t, Entry{EventType: "charge.refunded", Outcome: "ignored", Count: 1}, entries[1])
	assert.Equal(t, Entry{EventType: "unknown", Outcome: "rejected", Count: 1}, entries[2])
}
