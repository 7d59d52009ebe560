package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"service-notifications/internal/common/errors"
	"service-notifications/internal/common/validation"
	"service-notifications/internal/models"
	"service-notifications/internal/notifications/orchestration"
	"service-notifications/internal/notifications/template"
)

var dispatchRequestSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["service_type_id", "phase_id", "customer_id", "target"],
	"properties": {
		"event_id":        {"type": "string", "minLength": 1, "maxLength": 128},
		"service_type_id": {"type": "string", "minLength": 1},
		"subtype_id":      {"type": "string"},
		"phase_id":        {"type": "string", "minLength": 1},
		"customer_id":     {"type": "string", "minLength": 1, "maxLength": 64},
		"target":          {"type": "string", "enum": ["clients", "staff"]},
		"workshop_id":     {"type": "string"},
		"event_type":      {"type": "string"},
		"correlation_id":  {"type": "string"},
		"context": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		}
	}
}`)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := orchestration.ToResponse(nil, err)
	writeJSON(w, statusFor(resp), resp)
}

// statusFor maps an orchestration response onto an HTTP status.
func statusFor(resp orchestration.Response) int {
	switch resp.Status {
	case orchestration.StatusQueued:
		return http.StatusAccepted
	case orchestration.StatusRejected:
		switch errors.ErrorCode(resp.ErrorCode) {
		case errors.ErrCodeValidationFailed:
			return http.StatusUnprocessableEntity
		case errors.ErrCodeInvalidRequest:
			return http.StatusBadRequest
		case errors.ErrCodeRequestTooLarge:
			return http.StatusRequestEntityTooLarge
		default:
			return http.StatusNotFound
		}
	}
	return http.StatusInternalServerError
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, errors.NewRequestTooLargeError(tooLarge.Limit)
		}
		return nil, errors.NewInvalidRequestError("read body: " + err.Error())
	}
	return body, nil
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := dispatchRequestSchema.ValidateBytes(body)
	if err != nil {
		writeError(w, errors.NewInvalidRequestError(err.Error()))
		return
	}
	if !result.Valid {
		writeError(w, errors.NewInvalidRequestError(result.Error()))
		return
	}

	var req orchestration.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errors.NewInvalidRequestError(err.Error()))
		return
	}

	res, err := s.deps.Orchestrator.Dispatch(r.Context(), req)
	resp := orchestration.ToResponse(res, err)
	if resp.Status == orchestration.StatusServerError {
		s.logger.Error("dispatch failed", map[string]interface{}{
			"eventId":   req.EventID,
			"errorCode": resp.ErrorCode,
			"message":   resp.Message,
		})
	}
	writeJSON(w, statusFor(resp), resp)
}

type attemptsResponse struct {
	EventID  string                   `json:"event_id"`
	Attempts []models.DispatchAttempt `json:"attempts"`
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")
	history, err := s.deps.History.History(r.Context(), eventID)
	if err != nil {
		writeError(w, errors.NewStoreUnavailableError("attempt history", err))
		return
	}
	if len(history) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error_code": "EVENT_NOT_FOUND", "event_id": eventID})
		return
	}
	writeJSON(w, http.StatusOK, attemptsResponse{EventID: eventID, Attempts: history})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat, err := s.deps.Catalog.Catalog(r.Context())
	if err != nil {
		writeError(w, errors.NewStoreUnavailableError("catalog", err))
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

type previewRequest struct {
	Body    string            `json:"body"`
	Context map[string]string `json:"context"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req previewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errors.NewInvalidRequestError(err.Error()))
		return
	}
	if req.Body == "" {
		writeError(w, errors.NewInvalidRequestError("body is required"))
		return
	}
	writeJSON(w, http.StatusOK, template.Preview(req.Body, req.Context))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.Summary == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error_code": "ANALYTICS_DISABLED"})
		return
	}

	since := s.now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, errors.NewInvalidRequestError("since must be RFC3339"))
			return
		}
		since = t
	}

	summary, err := s.deps.Summary.Summary(r.Context(), since)
	if err != nil {
		s.logger.Error("analytics summary failed", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusBadGateway, map[string]string{"error_code": "ANALYTICS_UNAVAILABLE"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   s.now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
		"time":   s.now().Format(time.RFC3339),
	})
}
