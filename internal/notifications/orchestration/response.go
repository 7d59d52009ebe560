package orchestration

import (
	"service-notifications/internal/common/errors"
	"service-notifications/internal/models"
)

type Status string

const (
	StatusQueued      Status = "queued"
	StatusRejected    Status = "rejected"
	StatusServerError Status = "server_error"
)

// Response is the synchronous answer to a dispatch request. Delivery
// outcomes are never part of it; they are read from the attempt log.
type Response struct {
	Status           Status           `json:"status"`
	EventID          string           `json:"event_id,omitempty"`
	Channels         []models.Channel `json:"channels,omitempty"`
	SkippedChannels  []models.Channel `json:"skipped_channels,omitempty"`
	NoOp             bool             `json:"noop,omitempty"`
	Duplicate        bool             `json:"duplicate,omitempty"`
	ErrorCode        string           `json:"error_code,omitempty"`
	Message          string           `json:"message,omitempty"`
	MissingVariables []string         `json:"missing_variables,omitempty"`
}

func ToResponse(res *Result, err error) Response {
	if err == nil {
		if res == nil {
			return Response{Status: StatusQueued, NoOp: true}
		}
		return Response{
			Status:          StatusQueued,
			EventID:         res.EventID,
			Channels:        res.Channels,
			SkippedChannels: res.Skipped,
			NoOp:            res.NoOp,
			Duplicate:       res.Duplicate,
		}
	}

	stdErr, ok := errors.AsStandardError(err)
	if !ok {
		return Response{Status: StatusServerError, ErrorCode: string(errors.ErrCodeInternal), Message: err.Error()}
	}

	resp := Response{ErrorCode: string(stdErr.Code), Message: stdErr.Message}
	if stdErr.Details != "" {
		resp.Message = stdErr.Message + ": " + stdErr.Details
	}
	if errors.IsClientError(stdErr.Code) {
		resp.Status = StatusRejected
	} else {
		resp.Status = StatusServerError
	}
	if names, ok := stdErr.Metadata["missingVariables"].([]string); ok {
		resp.MissingVariables = names
	}
	return resp
}
