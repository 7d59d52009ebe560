// Package errors provides the error taxonomy shared by the orchestration
// pipeline, the dispatcher and the BPMN job workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Request-time (client) errors
const (
	ErrCodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrCodeRequestTooLarge       ErrorCode = "REQUEST_TOO_LARGE"
	ErrCodeCatalogSlugNotFound   ErrorCode = "CATALOG_SLUG_NOT_FOUND"
	ErrCodeConfigurationNotFound ErrorCode = "CONFIGURATION_NOT_FOUND"
	ErrCodeCustomerNotFound      ErrorCode = "CUSTOMER_NOT_FOUND"
	ErrCodeValidationFailed      ErrorCode = "VALIDATION_FAILED"
	ErrCodeTemplateRenderFailed  ErrorCode = "TEMPLATE_RENDER_FAILED"
	ErrCodeStoreUnavailable      ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeQueueUnavailable      ErrorCode = "QUEUE_UNAVAILABLE"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
)

// Delivery (asynchronous) errors
const (
	ErrCodeChannelSendRetryable ErrorCode = "CHANNEL_SEND_RETRYABLE"
	ErrCodeChannelSendTerminal  ErrorCode = "CHANNEL_SEND_TERMINAL"
	ErrCodeAllChannelsExhausted ErrorCode = "ALL_CHANNELS_EXHAUSTED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// AsStandardError unwraps err looking for a *StandardError.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandardError(err)
	return ok && stdErr.Code == code
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidRequestError(details string) *StandardError {
	return newError(ErrCodeInvalidRequest, "Dispatch request is malformed", details, false)
}

// NewRequestTooLargeError is returned when a request body exceeds limit bytes.
func NewRequestTooLargeError(limit int64) *StandardError {
	return newError(ErrCodeRequestTooLarge, "Request body is too large", fmt.Sprintf("limit is %d bytes", limit), false)
}

// NewCatalogSlugNotFoundError is returned when a service type, subtype or
// phase slug is not part of the catalog.
func NewCatalogSlugNotFoundError(kind, slug string) *StandardError {
	e := newError(ErrCodeCatalogSlugNotFound, fmt.Sprintf("Unknown %s slug", kind), slug, false)
	e.Metadata = map[string]interface{}{"kind": kind, "slug": slug}
	return e
}

func NewConfigurationNotFoundError(serviceType, audience string) *StandardError {
	e := newError(
		ErrCodeConfigurationNotFound,
		"No orchestration config for this service type/audience",
		fmt.Sprintf("service_type=%s audience=%s", serviceType, audience),
		false,
	)
	e.Metadata = map[string]interface{}{"serviceType": serviceType, "audience": audience}
	return e
}

func NewCustomerNotFoundError(customerID string) *StandardError {
	return newError(ErrCodeCustomerNotFound, "Customer not found", customerID, false)
}

// NewValidationFailedError carries the exact list of context variables the
// resolved templates need but the request did not provide.
func NewValidationFailedError(missing []string) *StandardError {
	names := append([]string(nil), missing...)
	sort.Strings(names)
	e := newError(
		ErrCodeValidationFailed,
		"Context is missing template variables",
		strings.Join(names, ", "),
		false,
	)
	e.Metadata = map[string]interface{}{"missingVariables": names}
	return e
}

func NewTemplateRenderFailedError(templateID string, err error) *StandardError {
	return newError(ErrCodeTemplateRenderFailed, fmt.Sprintf("Template %s failed to render", templateID), err.Error(), false)
}

func NewStoreUnavailableError(op string, err error) *StandardError {
	return newError(ErrCodeStoreUnavailable, fmt.Sprintf("Configuration store error during %s", op), err.Error(), true)
}

func NewQueueUnavailableError(err error) *StandardError {
	return newError(ErrCodeQueueUnavailable, "Dispatch queue unavailable", err.Error(), true)
}

func NewChannelSendError(channel string, retryable bool, err error) *StandardError {
	code := ErrCodeChannelSendTerminal
	if retryable {
		code = ErrCodeChannelSendRetryable
	}
	e := newError(code, fmt.Sprintf("Channel %s send failed", channel), err.Error(), retryable)
	e.Metadata = map[string]interface{}{"channel": channel}
	return e
}

func NewAllChannelsExhaustedError(eventID string) *StandardError {
	return newError(ErrCodeAllChannelsExhausted, "Every resolved channel failed", eventID, false)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to the error codes modelled on
// the BPMN boundary events.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeInvalidRequest:        "NOTIFICATION_REQUEST_INVALID",
	ErrCodeCatalogSlugNotFound:   "NOTIFICATION_CATALOG_SLUG_NOT_FOUND",
	ErrCodeConfigurationNotFound: "NOTIFICATION_CONFIG_NOT_FOUND",
	ErrCodeCustomerNotFound:      "NOTIFICATION_CUSTOMER_NOT_FOUND",
	ErrCodeValidationFailed:      "NOTIFICATION_VALIDATION_FAILED",
	ErrCodeTemplateRenderFailed:  "NOTIFICATION_TEMPLATE_RENDER_FAILED",
	ErrCodeStoreUnavailable:      "NOTIFICATION_STORE_UNAVAILABLE",
	ErrCodeQueueUnavailable:      "NOTIFICATION_QUEUE_UNAVAILABLE",
}

// GetRetryCount returns how many job retries an error code deserves.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStoreUnavailable, ErrCodeQueueUnavailable:
		return 3
	case ErrCodeChannelSendRetryable:
		return 2
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	if missing, ok := stdErr.Metadata["missingVariables"]; ok {
		vars["missingVariables"] = missing
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// IsClientError reports whether the code describes a problem with the request
// itself, as opposed to the infrastructure serving it.
func IsClientError(code ErrorCode) bool {
	switch code {
	case ErrCodeInvalidRequest,
		ErrCodeRequestTooLarge,
		ErrCodeCatalogSlugNotFound,
		ErrCodeConfigurationNotFound,
		ErrCodeCustomerNotFound,
		ErrCodeValidationFailed:
		return true
	}
	return false
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "CHANNEL") || code == ErrCodeAllChannelsExhausted:
		return "DELIVERY"
	case strings.Contains(codeStr, "TEMPLATE") || strings.Contains(codeStr, "VALIDATION"):
		return "TEMPLATE"
	case strings.Contains(codeStr, "NOT_FOUND"):
		return "CONFIGURATION"
	case strings.Contains(codeStr, "UNAVAILABLE"):
		return "INFRASTRUCTURE"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
