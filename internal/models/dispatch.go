// internal/models/dispatch.go
package models

import "time"

// AttemptStatus is the state recorded for one delivery attempt.
type AttemptStatus string

const (
	AttemptQueued    AttemptStatus = "queued"
	AttemptSent      AttemptStatus = "sent"
	AttemptFailed    AttemptStatus = "failed"
	AttemptAbandoned AttemptStatus = "abandoned"
)

// Terminal reports whether no further transition may follow for the event.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSent || s == AttemptAbandoned
}

// DispatchAttempt is one append-only row of the notification log.
type DispatchAttempt struct {
	ID                string        `json:"id"`
	EventID           string        `json:"eventId"`
	CorrelationID     string        `json:"correlationId,omitempty"`
	CustomerID        string        `json:"customerId"`
	Channel           Channel       `json:"channel"`
	AttemptNumber     int           `json:"attemptNumber"`
	Status            AttemptStatus `json:"status"`
	ErrorCode         string        `json:"errorCode,omitempty"`
	ErrorDetail       string        `json:"errorDetail,omitempty"`
	// Retryable is set on failed rows whose adapter error was transient.
	Retryable         bool          `json:"retryable,omitempty"`
	ProviderMessageID string        `json:"providerMessageId,omitempty"`
	BodyPreview       string        `json:"bodyPreview,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// ChannelPayload is the rendered message for one channel.
type ChannelPayload struct {
	TemplateID string `json:"templateId"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body"`
}

// DispatchTask is the persisted state of an event's delivery. Exactly one
// task per event lives in the queue at a time.
type DispatchTask struct {
	EventID        string                     `json:"eventId"`
	CorrelationID  string                     `json:"correlationId,omitempty"`
	CustomerID     string                     `json:"customerId"`
	Channel        Channel                    `json:"channel"`
	AttemptNumber  int                        `json:"attemptNumber"`
	NextEligibleAt time.Time                  `json:"nextEligibleAt"`
	Order          []Channel                  `json:"order"`
	Payloads       map[Channel]ChannelPayload `json:"payloads"`
}

// NextChannel returns the channel after the current one in the resolved
// order, if any.
func (t DispatchTask) NextChannel() (Channel, bool) {
	for i, ch := range t.Order {
		if ch == t.Channel && i+1 < len(t.Order) {
			return t.Order[i+1], true
		}
	}
	return "", false
}
