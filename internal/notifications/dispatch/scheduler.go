package dispatch

import (
	"context"
	"sync"
	"time"

	"service-notifications/internal/common/logger"
	"service-notifications/internal/common/metrics"
	"service-notifications/internal/models"
)

type SchedulerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Workers      int
}

// Scheduler claims due tasks from the queue and fans them out to a fixed
// worker pool. Delays live in the queue, so workers never sleep on a task.
type Scheduler struct {
	queue      Queue
	dispatcher *Dispatcher
	config     SchedulerConfig
	logger     logger.Logger
	tasks      chan models.DispatchTask
	wg         sync.WaitGroup
}

func NewScheduler(queue Queue, dispatcher *Dispatcher, config SchedulerConfig, log logger.Logger) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	return &Scheduler{
		queue:      queue,
		dispatcher: dispatcher,
		config:     config,
		logger:     log.Named("scheduler"),
		tasks:      make(chan models.DispatchTask, config.BatchSize),
	}
}

// Run blocks until ctx is cancelled and in-flight tasks have finished.
func (s *Scheduler) Run(ctx context.Context) {
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Scheduler started", map[string]interface{}{
		"workers":      s.config.Workers,
		"pollInterval": s.config.PollInterval.String(),
		"batchSize":    s.config.BatchSize,
	})

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		s.Poll(ctx)
		select {
		case <-ctx.Done():
			close(s.tasks)
			s.wg.Wait()
			s.logger.Info("Scheduler stopped", nil)
			return
		case <-ticker.C:
		}
	}
}

// Poll claims one batch of due tasks and hands them to the workers.
func (s *Scheduler) Poll(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	due, err := s.queue.Claim(ctx, s.dispatcher.now(), s.dispatcher.policy.Lease, s.config.BatchSize)
	if err != nil {
		s.logger.Error("Failed to claim due tasks", map[string]interface{}{"error": err.Error()})
	}
	for _, task := range due {
		select {
		case s.tasks <- task:
		case <-ctx.Done():
			// unsent tasks come back once their lease expires
			return 0
		}
	}

	if n, err := s.queue.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
	return len(due)
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for task := range s.tasks {
		// finish the claimed task even during shutdown so its outcome is logged
		if err := s.dispatcher.Process(context.WithoutCancel(ctx), task); err != nil {
			s.logger.Error("Dispatch task failed", map[string]interface{}{
				"worker":  id,
				"eventId": task.EventID,
				"channel": task.Channel,
				"attempt": task.AttemptNumber,
				"error":   err.Error(),
			})
		}
	}
}

// Drain processes every task due at the dispatcher's current time,
// synchronously, until none are left. Used by tests and one-shot tools.
func (s *Scheduler) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		due, err := s.queue.Claim(ctx, s.dispatcher.now(), s.dispatcher.policy.Lease, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		if len(due) == 0 {
			return total, nil
		}
		for _, task := range due {
			if err := s.dispatcher.Process(ctx, task); err != nil {
				return total, err
			}
			total++
		}
	}
}
