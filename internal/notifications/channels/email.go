package channels

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"

	"service-notifications/internal/common/logger"
	"service-notifications/internal/common/validation"
)

const utf8Charset = "UTF-8"

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// SESSender is satisfied by the shared SES client and by test doubles.
type SESSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

type EmailConfig struct {
	FromEmail      string
	DefaultSubject string
}

type EmailAdapter struct {
	client SESSender
	config EmailConfig
	logger logger.Logger
}

func NewEmailAdapter(client SESSender, config EmailConfig, log logger.Logger) *EmailAdapter {
	return &EmailAdapter{client: client, config: config, logger: log}
}

func (a *EmailAdapter) Send(ctx context.Context, msg Message) (Receipt, error) {
	to := strings.TrimSpace(msg.Destination)
	if !validation.ValidateEmail(to) {
		return Receipt{}, Terminal("EMAIL_INVALID_RECIPIENT", fmt.Errorf("invalid email address %q", to))
	}

	subject := msg.Subject
	if subject == "" {
		subject = a.config.DefaultSubject
	}

	body := &types.Body{Text: &types.Content{Data: aws.String(plainText(msg.Body)), Charset: aws.String(utf8Charset)}}
	if htmlTagPattern.MatchString(msg.Body) {
		body.Html = &types.Content{Data: aws.String(msg.Body), Charset: aws.String(utf8Charset)}
	}

	out, err := a.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(a.config.FromEmail),
		Destination: &types.Destination{ToAddresses: []string{to}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject), Charset: aws.String(utf8Charset)},
			Body:    body,
		},
	})
	if err != nil {
		a.logger.Warn("SES send failed", map[string]interface{}{
			"eventId": msg.EventID,
			"error":   err.Error(),
		})
		return Receipt{}, classifySESError(err)
	}

	id := aws.ToString(out.MessageId)
	a.logger.Debug("Email sent", map[string]interface{}{"eventId": msg.EventID, "messageId": id})
	return Receipt{ProviderMessageID: id}, nil
}

func plainText(body string) string {
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(body, ""))
}

func classifySESError(err error) error {
	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		return Terminal("EMAIL_REJECTED", err)
	}
	var notVerified *types.MailFromDomainNotVerifiedException
	if errors.As(err, &notVerified) {
		return Terminal("EMAIL_SENDER_NOT_VERIFIED", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "ServiceUnavailable":
			return Retryable("EMAIL_THROTTLED", err)
		case "InvalidParameterValue", "AccessDenied":
			return Terminal("EMAIL_"+strings.ToUpper(apiErr.ErrorCode()), err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable("EMAIL_TIMEOUT", err)
	}
	return Retryable("EMAIL_SEND_FAILED", err)
}
