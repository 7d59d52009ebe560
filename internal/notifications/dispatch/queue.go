package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"service-notifications/internal/models"
)

// Queue holds at most one DispatchTask per event, ordered by NextEligibleAt.
type Queue interface {
	// Schedule inserts or replaces the event's task.
	Schedule(ctx context.Context, task models.DispatchTask) error
	// Claim returns up to limit tasks due at now and hides them until
	// now+lease. A claimed task that is neither rescheduled nor completed
	// becomes due again when the lease runs out.
	Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.DispatchTask, error)
	// Complete drops the event's task.
	Complete(ctx context.Context, eventID string) error
	Len(ctx context.Context) (int64, error)
}

type memoryEntry struct {
	task  models.DispatchTask
	dueAt time.Time
}

// MemoryQueue is the in-process Queue used by tests and the memory driver.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]*memoryEntry)}
}

func (q *MemoryQueue) Schedule(ctx context.Context, task models.DispatchTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[task.EventID] = &memoryEntry{task: task, dueAt: task.NextEligibleAt}
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.DispatchTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	due := make([]*memoryEntry, 0)
	for _, e := range q.entries {
		if !e.dueAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].dueAt.Equal(due[j].dueAt) {
			return due[i].task.EventID < due[j].task.EventID
		}
		return due[i].dueAt.Before(due[j].dueAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]models.DispatchTask, 0, len(due))
	for _, e := range due {
		e.dueAt = now.Add(lease)
		out = append(out, e.task)
	}
	return out, nil
}

func (q *MemoryQueue) Complete(ctx context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, eventID)
	return nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

// Peek returns the event's pending task without claiming it.
func (q *MemoryQueue) Peek(eventID string) (models.DispatchTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[eventID]
	if !ok {
		return models.DispatchTask{}, false
	}
	return e.task, true
}
