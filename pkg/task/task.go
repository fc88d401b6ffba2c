package task

import (
	"context"
	"time"

	"github.com/docskit/tenant-api/pkg/logger"
	"github.com/docskit/tenant-api/pkg/metrics"
)

// Task is a unit of fire-and-forget work. Failures are logged and counted,
// never surfaced to the code that enqueued the task.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type RunnerConfig struct {
	QueueSize   int
	Workers     int
	TaskTimeout time.Duration
}

// Runner executes background tasks off the request path. The queue is
// bounded: when it is full, Enqueue drops the task instead of blocking
// the caller.
type Runner struct {
	queue   chan Task
	config  RunnerConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewRunner(config RunnerConfig, logger *logger.Logger, metrics *metrics.Metrics) *Runner {
	if config.QueueSize <= 0 {
		panic("QueueSize must be greater than 0")
	}
	if config.Workers <= 0 {
		panic("Workers must be greater than 0")
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = 10 * time.Second
	}

	return &Runner{
		queue:   make(chan Task, config.QueueSize),
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Start runs worker goroutines until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("Starting background task runner")

	for i := 0; i < r.config.Workers; i++ {
		go r.work(ctx)
	}

	<-ctx.Done()
	r.logger.Info("Shutting down background task runner")
}

// Enqueue submits a task without blocking. Returns false if the queue is
// full and the task was dropped.
func (r *Runner) Enqueue(t Task) bool {
	select {
	case r.queue <- t:
		r.metrics.TaskQueueDepth.Set(float64(len(r.queue)))
		return true
	default:
		r.metrics.TasksDropped.Inc()
		r.logger.Warn("Task queue full, dropping task", "task", t.Name)
		return false
	}
}

func (r *Runner) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-r.queue:
			r.metrics.TaskQueueDepth.Set(float64(len(r.queue)))
			taskCtx, cancel := context.WithTimeout(ctx, r.config.TaskTimeout)
			if err := t.Run(taskCtx); err != nil {
				r.metrics.TasksFailed.Inc()
				r.logger.Error(err, "Background task failed", "task", t.Name)
			} else {
				r.metrics.TasksProcessed.Inc()
			}
			cancel()
		}
	}
}
