package channels

import (
	"context"

	"github.com/google/uuid"

	"service-notifications/internal/common/logger"
)

// LogAdapter records the message instead of delivering it. It backs channels
// whose provider is disabled in local and memory-driver runs.
type LogAdapter struct {
	channel string
	logger  logger.Logger
}

func NewLogAdapter(channel string, log logger.Logger) *LogAdapter {
	return &LogAdapter{channel: channel, logger: log}
}

func (a *LogAdapter) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, Retryable("LOG_CANCELLED", err)
	}
	id := uuid.NewString()
	a.logger.Info("Notification delivered to log sink", map[string]interface{}{
		"channel":     a.channel,
		"eventId":     msg.EventID,
		"destination": msg.Destination,
		"subject":     msg.Subject,
		"messageId":   id,
	})
	return Receipt{ProviderMessageID: id}, nil
}
