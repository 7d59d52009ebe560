package dispatch

import (
	"context"
	"sort"
	"sync"

	"service-notifications/internal/models"
)

// AttemptLog is the append-only audit trail of every dispatch transition.
// Append is idempotent per (event, channel, attempt, status) and a channel can
// be recorded as sent at most once per event.
type AttemptLog interface {
	// Append stores the attempt and reports whether it was new.
	Append(ctx context.Context, attempt models.DispatchAttempt) (bool, error)
	// HasSent reports whether any channel of the event was delivered.
	HasSent(ctx context.Context, eventID string) (bool, error)
	// HasOutcome reports whether the attempt already ended as sent or failed.
	HasOutcome(ctx context.Context, eventID string, channel models.Channel, attemptNumber int) (bool, error)
	// History returns the event's attempts in insertion order.
	History(ctx context.Context, eventID string) ([]models.DispatchAttempt, error)
}

// AttemptSink receives a copy of every newly appended attempt.
type AttemptSink interface {
	Record(ctx context.Context, attempt models.DispatchAttempt) error
}

type transitionKey struct {
	eventID string
	channel models.Channel
	attempt int
	status  models.AttemptStatus
}

type MemoryAttemptLog struct {
	mu      sync.RWMutex
	byEvent map[string][]models.DispatchAttempt
	seen    map[transitionKey]struct{}
}

func NewMemoryAttemptLog() *MemoryAttemptLog {
	return &MemoryAttemptLog{
		byEvent: make(map[string][]models.DispatchAttempt),
		seen:    make(map[transitionKey]struct{}),
	}
}

func (l *MemoryAttemptLog) Append(ctx context.Context, a models.DispatchAttempt) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := transitionKey{a.EventID, a.Channel, a.AttemptNumber, a.Status}
	if _, dup := l.seen[key]; dup {
		return false, nil
	}
	if a.Status == models.AttemptSent {
		for _, prev := range l.byEvent[a.EventID] {
			if prev.Channel == a.Channel && prev.Status == models.AttemptSent {
				return false, nil
			}
		}
	}
	l.seen[key] = struct{}{}
	l.byEvent[a.EventID] = append(l.byEvent[a.EventID], a)
	return true, nil
}

func (l *MemoryAttemptLog) HasSent(ctx context.Context, eventID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, a := range l.byEvent[eventID] {
		if a.Status == models.AttemptSent {
			return true, nil
		}
	}
	return false, nil
}

func (l *MemoryAttemptLog) HasOutcome(ctx context.Context, eventID string, channel models.Channel, attemptNumber int) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, sent := l.seen[transitionKey{eventID, channel, attemptNumber, models.AttemptSent}]
	_, failed := l.seen[transitionKey{eventID, channel, attemptNumber, models.AttemptFailed}]
	return sent || failed, nil
}

func (l *MemoryAttemptLog) History(ctx context.Context, eventID string) ([]models.DispatchAttempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.DispatchAttempt, len(l.byEvent[eventID]))
	copy(out, l.byEvent[eventID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
