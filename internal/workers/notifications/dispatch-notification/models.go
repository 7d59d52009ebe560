// internal/workers/notifications/dispatch-notification/models.go
package dispatchnotification

import "service-notifications/internal/models"

// Input is read from the process variables of the service task.
type Input struct {
	EventID       string            `json:"eventId,omitempty"`
	ServiceTypeID string            `json:"serviceTypeId"`
	SubtypeID     string            `json:"subtypeId,omitempty"`
	PhaseID       string            `json:"phaseId"`
	CustomerID    string            `json:"customerId"`
	Target        models.Audience   `json:"target"`
	WorkshopID    string            `json:"workshopId,omitempty"`
	EventType     string            `json:"eventType,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
}

type Output struct {
	NotificationEventID string           `json:"notificationEventId"`
	NotificationStatus  string           `json:"notificationStatus"` // "queued", "noop", "duplicate"
	Channels            []models.Channel `json:"notificationChannels,omitempty"`
	SkippedChannels     []models.Channel `json:"notificationSkippedChannels,omitempty"`
}

// Statuses
const (
	StatusQueued    = "queued"
	StatusNoOp      = "noop"
	StatusDuplicate = "duplicate"
)
