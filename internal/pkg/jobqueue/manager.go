package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/viajamx/marketplace/internal/pkg/cache"
	"github.com/viajamx/marketplace/internal/pkg/env"
)

// PeriodicTask runs on a fixed interval while the manager is running.
type PeriodicTask struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Manager manages the global job queue and background tasks
type Manager struct {
	queue   *Queue
	tasks   []PeriodicTask
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workers := env.GetEnvInt("JOBQUEUE_WORKERS", 5)
		globalManager = NewManager(NewQueue(cache.GetClient(), workers))
	})
	return globalManager
}

func NewManager(queue *Queue) *Manager {
	return &Manager{
		queue:  queue,
		stopCh: make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// AddPeriodicTask registers a task. Tasks added while running start on the
// next Start.
func (m *Manager) AddPeriodicTask(task PeriodicTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	for _, task := range m.tasks {
		if task.Interval <= 0 || task.Run == nil {
			log.Warnf("[JobQueue Manager] Skipping task %q without interval or func", task.Name)
			continue
		}
		m.wg.Add(1)
		go m.runPeriodic(task, m.stopCh)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")
	close(m.stopCh)
	m.running = false
	m.wg.Wait()
	m.queue.Stop()
	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) runPeriodic(task PeriodicTask, stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started %s (interval: %s)", task.Name, task.Interval)
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			log.Infof("[JobQueue Manager] %s stopping", task.Name)
			return
		case <-ticker.C:
			if err := task.Run(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] %s error: %v", task.Name, err)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// StatsTask logs queue depth and counters on every tick.
func StatsTask(q *Queue, interval time.Duration) PeriodicTask {
	return PeriodicTask{
		Name:     "queue stats",
		Interval: interval,
		Run: func(ctx context.Context) error {
			pending, err := q.GetQueueSize(ctx)
			if err != nil {
				return err
			}
			processing, err := q.GetProcessingSize(ctx)
			if err != nil {
				return err
			}
			stats, err := q.GetJobStats(ctx)
			if err != nil {
				return err
			}
			log.Infof("[JobQueue] pending=%d processing=%d completed=%d failed=%d",
				pending, processing, stats[JobStatusCompleted], stats[JobStatusFailed])
			return nil
		},
	}
}
