// Package channels holds the delivery transports. Every transport implements
// Adapter and reports whether a failure is worth retrying.
package channels

import (
	"context"
	"errors"
	"fmt"

	"service-notifications/internal/models"
)

// Message is a rendered notification bound for one destination.
type Message struct {
	EventID     string
	Channel     models.Channel
	Destination string
	Subject     string
	Body        string
}

// Receipt identifies the message at the provider.
type Receipt struct {
	ProviderMessageID string
}

type Adapter interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// SendError classifies a failed send.
type SendError struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func Retryable(code string, err error) *SendError {
	return &SendError{Code: code, Retryable: true, Err: err}
}

func Terminal(code string, err error) *SendError {
	return &SendError{Code: code, Retryable: false, Err: err}
}

// IsRetryable reports whether err is a SendError marked retryable. Errors that
// were never classified are treated as transient.
func IsRetryable(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return err != nil
}

// ErrorCode returns the SendError code, or a generic one.
func ErrorCode(err error) string {
	var se *SendError
	if errors.As(err, &se) {
		return se.Code
	}
	return "SEND_FAILED"
}

var ErrAdapterNotConfigured = errors.New("no adapter configured for channel")

// Registry selects the adapter for a channel.
type Registry map[models.Channel]Adapter

func (r Registry) Lookup(ch models.Channel) (Adapter, error) {
	a, ok := r[ch]
	if !ok || a == nil {
		return nil, Terminal("ADAPTER_NOT_CONFIGURED", fmt.Errorf("%w: %s", ErrAdapterNotConfigured, ch))
	}
	return a, nil
}

// Channels lists the channels with a configured adapter.
func (r Registry) Channels() []models.Channel {
	var out []models.Channel
	for _, ch := range models.DefaultChannelOrder {
		if _, ok := r[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}
