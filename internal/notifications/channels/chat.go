package channels

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"

	httpclient "service-notifications/internal/common/http"
	"service-notifications/internal/common/logger"
)

var phoneCleanup = regexp.MustCompile(`[\s\-\(\)]`)

// ChatConfig points at an Evolution-style messaging gateway.
type ChatConfig struct {
	BaseURL  string
	APIKey   string
	Instance string
}

type ChatAdapter struct {
	client *httpclient.Client
	config ChatConfig
	logger logger.Logger
}

type chatRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type chatResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

func NewChatAdapter(client *httpclient.Client, config ChatConfig, log logger.Logger) *ChatAdapter {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &ChatAdapter{client: client, config: config, logger: log}
}

func (a *ChatAdapter) Send(ctx context.Context, msg Message) (Receipt, error) {
	number := normalizePhone(msg.Destination)
	if len(number) < 7 {
		return Receipt{}, Terminal("CHAT_INVALID_RECIPIENT", fmt.Errorf("invalid chat number %q", msg.Destination))
	}

	url := fmt.Sprintf("%s/message/sendText/%s", a.config.BaseURL, a.config.Instance)
	var resp chatResponse
	err := a.client.PostJSON(ctx, url, map[string]string{"apikey": a.config.APIKey}, chatRequest{Number: number, Text: msg.Body}, &resp)
	if err != nil {
		a.logger.Warn("Chat gateway send failed", map[string]interface{}{
			"eventId": msg.EventID,
			"error":   err.Error(),
		})
		return Receipt{}, classifyChatError(err)
	}
	return Receipt{ProviderMessageID: resp.Key.ID}, nil
}

func normalizePhone(phone string) string {
	return strings.TrimPrefix(phoneCleanup.ReplaceAllString(strings.TrimSpace(phone), ""), "+")
}

func classifyChatError(err error) error {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500 {
			return Retryable("CHAT_HTTP_ERROR", err)
		}
		return Terminal("CHAT_HTTP_ERROR", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Retryable("CHAT_TIMEOUT", err)
	}
	return Retryable("CHAT_API_ERROR", err)
}
