package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	"service-notifications/internal/common/logger"
)

type SNSPublisher interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

type PushConfig struct {
	DefaultTitle string
}

// PushAdapter publishes to a platform endpoint ARN registered for the customer.
type PushAdapter struct {
	client SNSPublisher
	config PushConfig
	logger logger.Logger
}

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func NewPushAdapter(client SNSPublisher, config PushConfig, log logger.Logger) *PushAdapter {
	return &PushAdapter{client: client, config: config, logger: log}
}

func (a *PushAdapter) Send(ctx context.Context, msg Message) (Receipt, error) {
	endpoint := strings.TrimSpace(msg.Destination)
	if !strings.HasPrefix(endpoint, "arn:") {
		return Receipt{}, Terminal("PUSH_NO_SUBSCRIPTION", fmt.Errorf("no push endpoint registered"))
	}

	title := msg.Subject
	if title == "" {
		title = a.config.DefaultTitle
	}
	payload, err := json.Marshal(pushPayload{Title: title, Body: msg.Body})
	if err != nil {
		return Receipt{}, Terminal("PUSH_ENCODE_FAILED", err)
	}

	out, err := a.client.Publish(ctx, &sns.PublishInput{
		TargetArn: aws.String(endpoint),
		Message:   aws.String(string(payload)),
	})
	if err != nil {
		a.logger.Warn("SNS publish failed", map[string]interface{}{
			"eventId": msg.EventID,
			"error":   err.Error(),
		})
		return Receipt{}, classifySNSError(err)
	}
	return Receipt{ProviderMessageID: aws.ToString(out.MessageId)}, nil
}

func classifySNSError(err error) error {
	var disabled *types.EndpointDisabledException
	if errors.As(err, &disabled) {
		return Terminal("PUSH_SUBSCRIPTION_EXPIRED", err)
	}
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return Terminal("PUSH_SUBSCRIPTION_NOT_FOUND", err)
	}
	var invalid *types.InvalidParameterException
	if errors.As(err, &invalid) {
		return Terminal("PUSH_INVALID_PARAMETER", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "Throttled" {
		return Retryable("PUSH_THROTTLED", err)
	}
	return Retryable("PUSH_SEND_FAILED", err)
}
