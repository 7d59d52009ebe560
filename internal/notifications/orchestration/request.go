package orchestration

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"service-notifications/internal/models"
)

var slugRule = validation.Match(regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)).Error("must be a lower-case slug")

// Request is one orchestration event. EventID is the idempotency key; one is
// generated when the caller leaves it empty.
type Request struct {
	EventID       string            `json:"event_id,omitempty"`
	ServiceTypeID string            `json:"service_type_id"`
	SubtypeID     string            `json:"subtype_id,omitempty"`
	PhaseID       string            `json:"phase_id"`
	CustomerID    string            `json:"customer_id"`
	Target        models.Audience   `json:"target"`
	WorkshopID    string            `json:"workshop_id,omitempty"`
	EventType     string            `json:"event_type,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Context       map[string]string `json:"context"`
}

func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ServiceTypeID, validation.Required, slugRule),
		validation.Field(&r.SubtypeID, slugRule),
		validation.Field(&r.PhaseID, validation.Required, slugRule),
		validation.Field(&r.CustomerID, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.Target, validation.Required, validation.In(models.AudienceClients, models.AudienceStaff)),
		validation.Field(&r.EventID, validation.Length(1, 128)),
	)
}
