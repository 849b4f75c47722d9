package jobqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/viajamx/marketplace/internal/pkg/cache"
)

func TestGetManager(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache.SetClient(client)

	globalManager = nil
	managerOnce = sync.Once{}

	manager1 := GetManager()
	manager2 := GetManager()

	assert.Same(t, manager1, manager2, "GetManager should return the same instance")
	assert.Same(t, manager1.queue, manager1.GetQueue())
	assert.Same(t, client, manager1.queue.client)
	assert.Equal(t, 5, manager1.queue.workers)
	assert.False(t, manager1.IsRunning())
}

func TestManager_StopWithoutStart(t *testing.T) {
	manager := NewManager(NewQueue(nil, 1))

	assert.False(t, manager.IsRunning())
	manager.Stop()
	assert.False(t, manager.IsRunning())
}

func TestManager_RunsPeriodicTasks(t *testing.T) {
	q, _ := newTestQueue(t)
	manager := NewManager(q)

	var runs int32
	manager.AddPeriodicTask(PeriodicTask{
		Name:     "counter",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})
	manager.AddPeriodicTask(PeriodicTask{Name: "broken"})
	manager.AddPeriodicTask(StatsTask(q, 10*time.Millisecond))

	manager.Start()
	assert.True(t, manager.IsRunning())
	assert.True(t, q.IsRunning())

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 2 }, time.Second, 5*time.Millisecond)

	manager.Stop()
	assert.False(t, manager.IsRunning())
	assert.False(t, q.IsRunning())

	// Restart uses a fresh stop channel.
	manager.Start()
	manager.Stop()
}
