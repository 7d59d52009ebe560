package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Constructors
// ==========================

func TestNewValidationFailedError_SortsMissingNames(t *testing.T) {
	err := NewValidationFailedError([]string{"Placa", "Orden"})

	assert.Equal(t, ErrCodeValidationFailed, err.Code)
	assert.Equal(t, "Orden, Placa", err.Details)
	assert.Equal(t, []string{"Orden", "Placa"}, err.Metadata["missingVariables"])
	assert.False(t, err.Retryable)
}

func TestNewChannelSendError(t *testing.T) {
	retryable := NewChannelSendError("chat", true, stderrors.New("timeout"))
	assert.Equal(t, ErrCodeChannelSendRetryable, retryable.Code)
	assert.True(t, retryable.Retryable)
	assert.Equal(t, "chat", retryable.Metadata["channel"])

	terminal := NewChannelSendError("email", false, stderrors.New("bounced"))
	assert.Equal(t, ErrCodeChannelSendTerminal, terminal.Code)
	assert.False(t, terminal.Retryable)
}

func TestAsStandardError_Unwraps(t *testing.T) {
	wrapped := fmt.Errorf("engine: %w", NewQueueUnavailableError(stderrors.New("conn refused")))

	stdErr, ok := AsStandardError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeQueueUnavailable, stdErr.Code)
	assert.True(t, HasCode(wrapped, ErrCodeQueueUnavailable))
	assert.False(t, HasCode(stderrors.New("plain"), ErrCodeQueueUnavailable))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, ErrCodeInternal, Normalize(stderrors.New("boom")).Code)

	orig := NewCustomerNotFoundError("C1")
	assert.Same(t, orig, Normalize(orig))
}

// ==========================
// BPMN conversion
// ==========================

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name        string
		err         *StandardError
		wantCode    string
		wantRetries int
	}{
		{name: "validation", err: NewValidationFailedError([]string{"Placa"}), wantCode: "NOTIFICATION_VALIDATION_FAILED", wantRetries: 0},
		{name: "store outage retries", err: NewStoreUnavailableError("load config", stderrors.New("down")), wantCode: "NOTIFICATION_STORE_UNAVAILABLE", wantRetries: 3},
		{name: "unmapped code passes through", err: NewAllChannelsExhaustedError("evt-1"), wantCode: "ALL_CHANNELS_EXHAUSTED", wantRetries: 0},
		{name: "internal", err: NewInternalError(stderrors.New("nil map")), wantCode: "INTERNAL_ERROR", wantRetries: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpmn := ConvertToBPMNError(tt.err)
			assert.Equal(t, tt.wantCode, bpmn.Code)
			assert.Equal(t, tt.wantRetries, bpmn.Retries)
			assert.Equal(t, string(tt.err.Code), bpmn.ErrorVariables["originalErrorCode"])
		})
	}
}

func TestConvertToBPMNError_CarriesMissingVariables(t *testing.T) {
	bpmn := ConvertToBPMNError(NewValidationFailedError([]string{"Placa"}))

	vars := bpmn.ToErrorVariables()
	assert.Equal(t, "NOTIFICATION_VALIDATION_FAILED", vars["errorCode"])
	assert.Equal(t, []string{"Placa"}, vars["missingVariables"])
	assert.Equal(t, false, vars["retryable"])
}

// ==========================
// Classification
// ==========================

func TestClassification(t *testing.T) {
	assert.True(t, IsClientError(ErrCodeCatalogSlugNotFound))
	assert.True(t, IsClientError(ErrCodeValidationFailed))
	assert.True(t, IsClientError(ErrCodeRequestTooLarge))
	assert.False(t, IsClientError(ErrCodeStoreUnavailable))
	assert.False(t, IsClientError(ErrCodeTemplateRenderFailed))

	assert.True(t, IsRetryableErrorCode(ErrCodeQueueUnavailable))
	assert.False(t, IsRetryableErrorCode(ErrCodeInvalidRequest))

	assert.Equal(t, "DELIVERY", GetErrorCategory(ErrCodeChannelSendTerminal))
	assert.Equal(t, "DELIVERY", GetErrorCategory(ErrCodeAllChannelsExhausted))
	assert.Equal(t, "TEMPLATE", GetErrorCategory(ErrCodeValidationFailed))
	assert.Equal(t, "CONFIGURATION", GetErrorCategory(ErrCodeConfigurationNotFound))
	assert.Equal(t, "INFRASTRUCTURE", GetErrorCategory(ErrCodeStoreUnavailable))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeInvalidRequest))
}
