package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/iris/internal/iriserr"
	"github.com/HyphaGroup/iris/internal/logger"
	"github.com/HyphaGroup/iris/internal/metrics"
)

// Task is one queued unit of work.
type Task struct {
	ID         string
	Desc       string
	EnqueuedAt time.Time
	Run        func(ctx context.Context) error
}

// Queue executes tasks one at a time in arrival order. Enqueue is
// non-blocking; a full queue rejects with a typed error rather than
// stalling the caller.
type Queue struct {
	tasks  chan *Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a queue holding at most capacity pending tasks.
func NewQueue(capacity int) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		tasks:  make(chan *Task, capacity),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the single worker.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
}

// Stop cancels the running task and waits for the worker to drain.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
}

// Enqueue adds a task and returns its ID.
func (q *Queue) Enqueue(desc string, run func(ctx context.Context) error) (string, error) {
	task := &Task{
		ID:         "task_" + uuid.New().String()[:8],
		Desc:       desc,
		EnqueuedAt: time.Now(),
		Run:        run,
	}

	select {
	case q.tasks <- task:
		metrics.QueueDepth.Set(float64(len(q.tasks)))
		logger.Debug("task enqueued", "task_id", task.ID, "desc", desc, "depth", len(q.tasks))
		return task.ID, nil
	default:
		return "", iriserr.New(iriserr.KindProcessBusy,
			"async queue is full (%d pending)", cap(q.tasks))
	}
}

// Depth returns the number of pending tasks.
func (q *Queue) Depth() int { return len(q.tasks) }

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.tasks:
			metrics.QueueDepth.Set(float64(len(q.tasks)))
			start := time.Now()
			if err := task.Run(q.ctx); err != nil {
				logger.Error("async task failed",
					"task_id", task.ID, "desc", task.Desc, "err", err)
			} else {
				logger.Debug("async task done",
					"task_id", task.ID, "desc", task.Desc, "took", time.Since(start))
			}
		}
	}
}
