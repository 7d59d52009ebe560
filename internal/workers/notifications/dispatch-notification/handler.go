// internal/workers/notifications/dispatch-notification/handler.go
package dispatchnotification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"service-notifications/internal/common/errors"
	"service-notifications/internal/common/logger"
	"service-notifications/internal/common/metrics"
	"service-notifications/internal/notifications/orchestration"
)

const (
	TaskType = "dispatch-notification"
)

// Orchestrator is satisfied by *orchestration.Engine.
type Orchestrator interface {
	Dispatch(ctx context.Context, req orchestration.Request) (*orchestration.Result, error)
}

type Handler struct {
	config       *Config
	orchestrator Orchestrator
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, orchestrator Orchestrator, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		orchestrator: orchestrator,
		errorHandler: errors.NewErrorHandler(l),
		logger:       l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer func() {
		metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()
		metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, errors.NewInvalidRequestError(fmt.Sprintf("parse input: %v", err)))
		return
	}
	if input.EventID == "" {
		// a redelivered job maps to the same event, so the dispatch stays idempotent
		input.EventID = "zeebe-" + strconv.FormatInt(job.ElementInstanceKey, 10)
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.completeJob(ctx, client, job, output)
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

// Execute runs the orchestration for one task.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	res, err := h.orchestrator.Dispatch(ctx, input.toRequest())
	if err != nil {
		return nil, err
	}

	out := &Output{
		NotificationEventID: res.EventID,
		NotificationStatus:  StatusQueued,
		Channels:            res.Channels,
		SkippedChannels:     res.Skipped,
	}
	switch {
	case res.NoOp:
		out.NotificationStatus = StatusNoOp
	case res.Duplicate:
		out.NotificationStatus = StatusDuplicate
	}
	return out, nil
}

func (in *Input) toRequest() orchestration.Request {
	return orchestration.Request{
		EventID:       in.EventID,
		ServiceTypeID: in.ServiceTypeID,
		SubtypeID:     in.SubtypeID,
		PhaseID:       in.PhaseID,
		CustomerID:    in.CustomerID,
		Target:        in.Target,
		WorkshopID:    in.WorkshopID,
		EventType:     in.EventType,
		CorrelationID: in.CorrelationID,
		Context:       in.Context,
	}
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
