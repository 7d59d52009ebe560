// Package dispatch runs the per-event delivery state machine: one channel at a
// time, bounded retries with exponential backoff, then fallback to the next
// channel after a cooldown. Waits are delayed re-enqueues, never sleeps.
package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"service-notifications/internal/common/errors"
	"service-notifications/internal/common/logger"
	"service-notifications/internal/common/metrics"
	"service-notifications/internal/common/observability"
	"service-notifications/internal/models"
	"service-notifications/internal/notifications/channels"
	"service-notifications/internal/notifications/store"
)

const previewRunes = 160

const (
	codeCustomerNotFound = "CUSTOMER_NOT_FOUND"
	codeNoDestination    = "NO_DESTINATION"
	codePayloadMissing   = "PAYLOAD_MISSING"
)

// Plan is the engine's hand-off: the resolved channel order and one rendered
// payload per channel.
type Plan struct {
	EventID       string
	CorrelationID string
	CustomerID    string
	Order         []models.Channel
	Payloads      map[models.Channel]models.ChannelPayload
}

type Dispatcher struct {
	queue       Queue
	attempts    AttemptLog
	customers   store.CustomerDirectory
	adapters    channels.Registry
	policy      Policy
	sendTimeout time.Duration
	sink        AttemptSink
	obs         *observability.Observability
	logger      logger.Logger
	now         func() time.Time
}

type Option func(*Dispatcher)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithSink(sink AttemptSink) Option {
	return func(d *Dispatcher) { d.sink = sink }
}

func WithObservability(obs *observability.Observability) Option {
	return func(d *Dispatcher) { d.obs = obs }
}

func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.sendTimeout = timeout }
}

func NewDispatcher(queue Queue, attempts AttemptLog, customers store.CustomerDirectory, adapters channels.Registry, policy Policy, log logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:     queue,
		attempts:  attempts,
		customers: customers,
		adapters:  adapters,
		policy:    policy.withDefaults(),
		logger:    log.Named("dispatcher"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Policy() Policy {
	return d.policy
}

// Submit enqueues the first channel of the plan. It returns false when the
// event was already submitted, which makes repeated submissions a no-op.
func (d *Dispatcher) Submit(ctx context.Context, plan Plan) (bool, error) {
	if len(plan.Order) == 0 {
		return false, fmt.Errorf("dispatch plan for %s has no channels", plan.EventID)
	}

	history, err := d.attempts.History(ctx, plan.EventID)
	if err != nil {
		return false, errors.NewStoreUnavailableError("attempt history", err)
	}
	if len(history) > 0 {
		d.logger.Info("Duplicate dispatch submission ignored", map[string]interface{}{
			"eventId":  plan.EventID,
			"attempts": len(history),
		})
		return false, nil
	}

	task := models.DispatchTask{
		EventID:        plan.EventID,
		CorrelationID:  plan.CorrelationID,
		CustomerID:     plan.CustomerID,
		Channel:        plan.Order[0],
		AttemptNumber:  1,
		NextEligibleAt: d.now(),
		Order:          plan.Order,
		Payloads:       plan.Payloads,
	}
	if err := d.queue.Schedule(ctx, task); err != nil {
		return false, errors.NewQueueUnavailableError(err)
	}
	d.record(ctx, task, outcome{status: models.AttemptQueued, preview: task.Payloads[task.Channel].Body})

	d.logger.Info("Dispatch submitted", map[string]interface{}{
		"eventId": plan.EventID,
		"order":   plan.Order,
	})
	return true, nil
}

// History exposes the event's attempt log.
func (d *Dispatcher) History(ctx context.Context, eventID string) ([]models.DispatchAttempt, error) {
	return d.attempts.History(ctx, eventID)
}

// Process runs one claimed task to its next state. Errors are infrastructure
// failures only; the task stays leased and is reclaimed later.
func (d *Dispatcher) Process(ctx context.Context, task models.DispatchTask) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "dispatch.process", trace.WithAttributes(
		attribute.String("event_id", task.EventID),
		attribute.String("channel", string(task.Channel)),
		attribute.Int("attempt", task.AttemptNumber),
	))
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		d.obs.RecordTaskProcessed(ctx, status)
		d.obs.RecordTaskDuration(ctx, time.Since(start), status)
		span.End()
	}()

	sent, err := d.attempts.HasSent(ctx, task.EventID)
	if err != nil {
		return err
	}
	if sent {
		return d.queue.Complete(ctx, task.EventID)
	}

	done, err := d.attempts.HasOutcome(ctx, task.EventID, task.Channel, task.AttemptNumber)
	if err != nil {
		return err
	}
	if done {
		return d.resume(ctx, task)
	}

	customer, err := d.customers.GetCustomer(ctx, task.CustomerID)
	if stderrors.Is(err, store.ErrNotFound) {
		return d.abandon(ctx, task, codeCustomerNotFound, fmt.Sprintf("customer %s no longer exists", task.CustomerID))
	}
	if err != nil {
		return fmt.Errorf("load customer %s: %w", task.CustomerID, err)
	}

	payload, ok := task.Payloads[task.Channel]
	if !ok {
		return d.fail(ctx, task, codePayloadMissing, "no rendered payload for channel", false)
	}
	destination := customer.AddressFor(task.Channel)
	if destination == "" {
		return d.skip(ctx, task, codeNoDestination, fmt.Sprintf("customer has no %s address", task.Channel))
	}
	adapter, err := d.adapters.Lookup(task.Channel)
	if err != nil {
		return d.fail(ctx, task, channels.ErrorCode(err), err.Error(), false)
	}

	receipt, err := d.send(ctx, adapter, channels.Message{
		EventID:     task.EventID,
		Channel:     task.Channel,
		Destination: destination,
		Subject:     payload.Subject,
		Body:        payload.Body,
	})
	if err != nil {
		return d.fail(ctx, task, channels.ErrorCode(err), err.Error(), channels.IsRetryable(err))
	}

	d.record(ctx, task, outcome{status: models.AttemptSent, providerID: receipt.ProviderMessageID, preview: payload.Body})
	d.logger.Info("Notification sent", map[string]interface{}{
		"eventId":   task.EventID,
		"channel":   task.Channel,
		"attempt":   task.AttemptNumber,
		"messageId": receipt.ProviderMessageID,
	})
	return d.queue.Complete(ctx, task.EventID)
}

func (d *Dispatcher) send(ctx context.Context, adapter channels.Adapter, msg channels.Message) (channels.Receipt, error) {
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}
	start := time.Now()
	receipt, err := adapter.Send(ctx, msg)
	metrics.DispatchSendDuration.WithLabelValues(string(msg.Channel)).Observe(time.Since(start).Seconds())
	return receipt, err
}

// fail records the failed attempt and moves the task to its next state.
func (d *Dispatcher) fail(ctx context.Context, task models.DispatchTask, code, detail string, retryable bool) error {
	d.record(ctx, task, outcome{status: models.AttemptFailed, code: code, detail: detail, retryable: retryable})
	d.logger.Warn("Notification attempt failed", map[string]interface{}{
		"eventId":   task.EventID,
		"channel":   task.Channel,
		"attempt":   task.AttemptNumber,
		"code":      code,
		"retryable": retryable,
	})
	return d.advance(ctx, task, retryable, d.policy.FallbackCooldown)
}

// skip records a channel the customer cannot be reached on and moves to the
// next channel right away; nothing was sent, so no cooldown applies.
func (d *Dispatcher) skip(ctx context.Context, task models.DispatchTask, code, detail string) error {
	d.record(ctx, task, outcome{status: models.AttemptFailed, code: code, detail: detail})
	d.logger.Info("Channel skipped", map[string]interface{}{
		"eventId": task.EventID,
		"channel": task.Channel,
		"code":    code,
	})
	return d.advance(ctx, task, false, 0)
}

// advance picks the follow-up of a failed attempt: retry the same channel,
// fall back to the next one after cooldown, or abandon the event.
func (d *Dispatcher) advance(ctx context.Context, task models.DispatchTask, retryable bool, cooldown time.Duration) error {
	now := d.now()

	if retryable && task.AttemptNumber < d.policy.MaxAttempts {
		next := task
		next.AttemptNumber++
		next.NextEligibleAt = now.Add(d.policy.Backoff(task.AttemptNumber))
		return d.requeue(ctx, next)
	}

	if ch, ok := task.NextChannel(); ok {
		next := task
		next.Channel = ch
		next.AttemptNumber = 1
		next.NextEligibleAt = now.Add(cooldown)
		d.logger.Info("Falling back to next channel", map[string]interface{}{
			"eventId": task.EventID,
			"from":    task.Channel,
			"to":      ch,
			"at":      next.NextEligibleAt,
		})
		return d.requeue(ctx, next)
	}

	exhausted := errors.NewAllChannelsExhaustedError(task.EventID)
	d.record(ctx, task, outcome{status: models.AttemptAbandoned, code: string(exhausted.Code), detail: exhausted.Message})
	d.logger.Warn("Notification abandoned", map[string]interface{}{
		"eventId": task.EventID,
		"order":   task.Order,
	})
	return d.queue.Complete(ctx, task.EventID)
}

// abandon ends the event without trying the remaining channels.
func (d *Dispatcher) abandon(ctx context.Context, task models.DispatchTask, code, detail string) error {
	d.record(ctx, task, outcome{status: models.AttemptFailed, code: code, detail: detail})
	d.record(ctx, task, outcome{status: models.AttemptAbandoned, code: code, detail: detail})
	d.logger.Warn("Notification abandoned", map[string]interface{}{
		"eventId": task.EventID,
		"code":    code,
	})
	return d.queue.Complete(ctx, task.EventID)
}

func (d *Dispatcher) requeue(ctx context.Context, next models.DispatchTask) error {
	if err := d.queue.Schedule(ctx, next); err != nil {
		return errors.NewQueueUnavailableError(err)
	}
	d.record(ctx, next, outcome{status: models.AttemptQueued})
	return nil
}

// resume handles a redelivered task whose outcome is already logged, e.g.
// after a worker died between logging and rescheduling.
func (d *Dispatcher) resume(ctx context.Context, task models.DispatchTask) error {
	history, err := d.attempts.History(ctx, task.EventID)
	if err != nil {
		return err
	}

	current := position(task.Order, task.Channel, task.AttemptNumber, d.policy.MaxAttempts)
	var failed *models.DispatchAttempt
	for i := range history {
		a := history[i]
		if a.Status.Terminal() {
			return d.queue.Complete(ctx, task.EventID)
		}
		if position(task.Order, a.Channel, a.AttemptNumber, d.policy.MaxAttempts) > current {
			// a later step was already scheduled
			return nil
		}
		if a.Channel == task.Channel && a.AttemptNumber == task.AttemptNumber && a.Status == models.AttemptFailed {
			failed = &history[i]
		}
	}
	if failed == nil {
		return nil
	}
	cooldown := d.policy.FallbackCooldown
	if failed.ErrorCode == codeNoDestination {
		cooldown = 0
	}
	return d.advance(ctx, task, failed.Retryable, cooldown)
}

func position(order []models.Channel, ch models.Channel, attempt, maxAttempts int) int {
	for i, c := range order {
		if c == ch {
			return i*maxAttempts + attempt
		}
	}
	return -1
}

type outcome struct {
	status     models.AttemptStatus
	code       string
	detail     string
	retryable  bool
	providerID string
	preview    string
}

// record appends to the attempt log. Log failures are reported but never
// change the task's next state.
func (d *Dispatcher) record(ctx context.Context, task models.DispatchTask, o outcome) {
	attempt := models.DispatchAttempt{
		ID:                uuid.NewString(),
		EventID:           task.EventID,
		CorrelationID:     task.CorrelationID,
		CustomerID:        task.CustomerID,
		Channel:           task.Channel,
		AttemptNumber:     task.AttemptNumber,
		Status:            o.status,
		ErrorCode:         o.code,
		ErrorDetail:       o.detail,
		Retryable:         o.retryable,
		ProviderMessageID: o.providerID,
		BodyPreview:       truncate(o.preview, previewRunes),
		CreatedAt:         d.now().UTC(),
	}

	inserted, err := d.attempts.Append(ctx, attempt)
	if err != nil {
		d.logger.Error("Failed to append dispatch attempt", map[string]interface{}{
			"eventId": task.EventID,
			"status":  o.status,
			"error":   err.Error(),
		})
		return
	}
	if !inserted {
		return
	}

	metrics.DispatchAttempts.WithLabelValues(string(task.Channel), string(o.status)).Inc()
	d.obs.RecordOutcome(ctx, string(task.Channel), string(o.status))

	if d.sink != nil {
		if err := d.sink.Record(ctx, attempt); err != nil {
			d.logger.Warn("Attempt sink rejected record", map[string]interface{}{
				"eventId": task.EventID,
				"error":   err.Error(),
			})
		}
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
