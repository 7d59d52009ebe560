package dispatchnotification

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"service-notifications/internal/common/errors"
	"service-notifications/internal/common/logger"
	"service-notifications/internal/models"
	"service-notifications/internal/notifications/orchestration"
)

// ==========================
// Mock Implementations
// ==========================

type MockOrchestrator struct {
	DispatchFunc func(ctx context.Context, req orchestration.Request) (*orchestration.Result, error)
	requests     []orchestration.Request
}

func (m *MockOrchestrator) Dispatch(ctx context.Context, req orchestration.Request) (*orchestration.Result, error) {
	m.requests = append(m.requests, req)
	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, req)
	}
	return &orchestration.Result{EventID: req.EventID, Channels: []models.Channel{models.ChannelEmail}}, nil
}

// ==========================
// Test Helper Functions
// ==========================

func createTestHandler(t *testing.T, orchestrator Orchestrator) *Handler {
	return NewHandler(LoadConfig(), orchestrator, logger.NewTestLogger(t))
}

func createInput() *Input {
	return &Input{
		EventID:       "evt-42",
		ServiceTypeID: "mantenimiento-preventivo",
		PhaseID:       "phase-reception",
		CustomerID:    "CUST-0001",
		Target:        models.AudienceClients,
		WorkshopID:    "W-QUITO",
		CorrelationID: "ot-2291",
		Context:       map[string]string{"placa": "ABC123"},
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Success(t *testing.T) {
	tests := []struct {
		name       string
		result     *orchestration.Result
		wantStatus string
	}{
		{
			name:       "queued",
			result:     &orchestration.Result{EventID: "evt-42", Channels: []models.Channel{models.ChannelEmail, models.ChannelChat}},
			wantStatus: StatusQueued,
		},
		{
			name:       "no channel resolved",
			result:     &orchestration.Result{EventID: "evt-42", NoOp: true},
			wantStatus: StatusNoOp,
		},
		{
			name:       "already dispatched",
			result:     &orchestration.Result{EventID: "evt-42", Channels: []models.Channel{models.ChannelEmail}, Duplicate: true},
			wantStatus: StatusDuplicate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockOrchestrator{DispatchFunc: func(ctx context.Context, req orchestration.Request) (*orchestration.Result, error) {
				return tt.result, nil
			}}
			h := createTestHandler(t, mock)

			output, err := h.Execute(context.Background(), createInput())
			require.NoError(t, err)
			assert.Equal(t, "evt-42", output.NotificationEventID)
			assert.Equal(t, tt.wantStatus, output.NotificationStatus)
			assert.Equal(t, tt.result.Channels, output.Channels)
		})
	}
}

func TestHandler_Execute_MapsInput(t *testing.T) {
	mock := &MockOrchestrator{}
	h := createTestHandler(t, mock)

	_, err := h.Execute(context.Background(), createInput())
	require.NoError(t, err)
	require.Len(t, mock.requests, 1)

	req := mock.requests[0]
	assert.Equal(t, "evt-42", req.EventID)
	assert.Equal(t, "mantenimiento-preventivo", req.ServiceTypeID)
	assert.Equal(t, "phase-reception", req.PhaseID)
	assert.Equal(t, models.AudienceClients, req.Target)
	assert.Equal(t, "W-QUITO", req.WorkshopID)
	assert.Equal(t, "ot-2291", req.CorrelationID)
	assert.Equal(t, "ABC123", req.Context["placa"])
}

func TestHandler_Execute_PropagatesStandardError(t *testing.T) {
	mock := &MockOrchestrator{DispatchFunc: func(ctx context.Context, req orchestration.Request) (*orchestration.Result, error) {
		return nil, errors.NewValidationFailedError([]string{"Placa"})
	}}
	h := createTestHandler(t, mock)

	output, err := h.Execute(context.Background(), createInput())
	assert.Nil(t, output)
	require.Error(t, err)

	stdErr, ok := errors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeValidationFailed, stdErr.Code)

	bpmnErr := errors.ConvertToBPMNError(stdErr)
	assert.Equal(t, "NOTIFICATION_VALIDATION_FAILED", bpmnErr.Code)
	assert.Equal(t, 0, bpmnErr.Retries)
}

// ==========================
// Input Parsing Tests
// ==========================

func TestInput_DecodesProcessVariables(t *testing.T) {
	vars := `{
		"serviceTypeId": "averia-revision",
		"subtypeId": "averia-frenos",
		"phaseId": "phase-reception",
		"customerId": "CUST-0002",
		"target": "clients",
		"context": {"placa": "PBX-1234"},
		"unrelatedProcessVariable": true
	}`

	var input Input
	require.NoError(t, json.Unmarshal([]byte(vars), &input))
	req := input.toRequest()
	assert.Empty(t, req.EventID)
	assert.Equal(t, "averia-frenos", req.SubtypeID)
	assert.Equal(t, models.AudienceClients, req.Target)
	assert.NoError(t, req.Validate())
}

func TestOutput_VariableNames(t *testing.T) {
	out := Output{NotificationEventID: "evt-1", NotificationStatus: StatusQueued, Channels: []models.Channel{models.ChannelPush}}
	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"notificationEventId":"evt-1","notificationStatus":"queued","notificationChannels":["push"]}`, string(data))
}
