package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpclient "service-notifications/internal/common/http"
	"service-notifications/internal/common/logger"
	"service-notifications/internal/models"
)

// ==========================
// Mock Implementations
// ==========================

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

func (m *MockSESService) SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, input)
}

type MockSNSService struct {
	PublishFunc func(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, input)
}

// ==========================
// Email
// ==========================

func TestEmailAdapter_Send(t *testing.T) {
	var captured *ses.SendEmailInput
	mock := &MockSESService{
		SendEmailFunc: func(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
			captured = input
			return &ses.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
		},
	}
	a := NewEmailAdapter(mock, EmailConfig{FromEmail: "noreply@ambacar.ec", DefaultSubject: "Notificación Ambacar"}, logger.NewTestLogger(t))

	receipt, err := a.Send(context.Background(), Message{EventID: "e1", Channel: models.ChannelEmail, Destination: "carlos@example.com", Body: "<p>Hola Carlos</p>"})
	require.NoError(t, err)
	assert.Equal(t, "ses-123", receipt.ProviderMessageID)

	require.NotNil(t, captured)
	assert.Equal(t, "noreply@ambacar.ec", aws.ToString(captured.Source))
	assert.Equal(t, []string{"carlos@example.com"}, captured.Destination.ToAddresses)
	assert.Equal(t, "Notificación Ambacar", aws.ToString(captured.Message.Subject.Data), "empty subject uses the default")
	require.NotNil(t, captured.Message.Body.Html)
	assert.Equal(t, "Hola Carlos", aws.ToString(captured.Message.Body.Text.Data))
}

func TestEmailAdapter_PlainTextHasNoHTMLPart(t *testing.T) {
	var captured *ses.SendEmailInput
	mock := &MockSESService{
		SendEmailFunc: func(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
			captured = input
			return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
		},
	}
	a := NewEmailAdapter(mock, EmailConfig{FromEmail: "noreply@ambacar.ec"}, logger.NewNoOpLogger())

	_, err := a.Send(context.Background(), Message{Destination: "carlos@example.com", Subject: "Cita", Body: "Hola"})
	require.NoError(t, err)
	assert.Nil(t, captured.Message.Body.Html)
	assert.Equal(t, "Cita", aws.ToString(captured.Message.Subject.Data))
}

func TestEmailAdapter_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		code      string
	}{
		{name: "rejected", err: &sestypes.MessageRejected{Message: aws.String("bad")}, retryable: false, code: "EMAIL_REJECTED"},
		{name: "throttled", err: &smithy.GenericAPIError{Code: "Throttling", Message: "slow down"}, retryable: true, code: "EMAIL_THROTTLED"},
		{name: "unknown", err: errors.New("connection reset"), retryable: true, code: "EMAIL_SEND_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockSESService{
				SendEmailFunc: func(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
					return nil, tt.err
				},
			}
			a := NewEmailAdapter(mock, EmailConfig{FromEmail: "noreply@ambacar.ec"}, logger.NewNoOpLogger())

			_, err := a.Send(context.Background(), Message{Destination: "carlos@example.com", Body: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.code, ErrorCode(err))
		})
	}
}

func TestEmailAdapter_InvalidRecipientNeverCallsProvider(t *testing.T) {
	mock := &MockSESService{
		SendEmailFunc: func(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
			t.Fatal("provider must not be called")
			return nil, nil
		},
	}
	a := NewEmailAdapter(mock, EmailConfig{FromEmail: "noreply@ambacar.ec"}, logger.NewNoOpLogger())

	_, err := a.Send(context.Background(), Message{Destination: "not-an-email", Body: "x"})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

// ==========================
// Chat
// ==========================

func TestChatAdapter_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/message/sendText/ambacar", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("apikey"))

		var body chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "593987654321", body.Number)
		assert.Equal(t, "Hola Carlos", body.Text)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"key":{"id":"wamid-1"}}`))
	}))
	defer server.Close()

	a := NewChatAdapter(httpclient.NewClient(time.Second), ChatConfig{BaseURL: server.URL + "/", APIKey: "secret", Instance: "ambacar"}, logger.NewTestLogger(t))

	receipt, err := a.Send(context.Background(), Message{Destination: "+593 98-765-4321", Body: "Hola Carlos"})
	require.NoError(t, err)
	assert.Equal(t, "wamid-1", receipt.ProviderMessageID)
}

func TestChatAdapter_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{status: http.StatusInternalServerError, retryable: true},
		{status: http.StatusTooManyRequests, retryable: true},
		{status: http.StatusBadRequest, retryable: false},
		{status: http.StatusUnauthorized, retryable: false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			a := NewChatAdapter(httpclient.NewClient(time.Second), ChatConfig{BaseURL: server.URL, Instance: "i"}, logger.NewNoOpLogger())
			_, err := a.Send(context.Background(), Message{Destination: "0987654321", Body: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, "CHAT_HTTP_ERROR", ErrorCode(err))
		})
	}
}

func TestChatAdapter_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	a := NewChatAdapter(httpclient.NewClient(50*time.Millisecond), ChatConfig{BaseURL: server.URL, Instance: "i"}, logger.NewNoOpLogger())
	_, err := a.Send(context.Background(), Message{Destination: "0987654321", Body: "x"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "CHAT_TIMEOUT", ErrorCode(err))
}

// ==========================
// Push
// ==========================

func TestPushAdapter_Send(t *testing.T) {
	mock := &MockSNSService{
		PublishFunc: func(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
			assert.Equal(t, "arn:aws:sns:us-east-1:1:endpoint/GCM/app/abc", aws.ToString(input.TargetArn))
			var p pushPayload
			assert.NoError(t, json.Unmarshal([]byte(aws.ToString(input.Message)), &p))
			assert.Equal(t, "Ambacar", p.Title)
			assert.Equal(t, "Su vehículo está listo", p.Body)
			return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
		},
	}
	a := NewPushAdapter(mock, PushConfig{DefaultTitle: "Ambacar"}, logger.NewNoOpLogger())

	receipt, err := a.Send(context.Background(), Message{Destination: "arn:aws:sns:us-east-1:1:endpoint/GCM/app/abc", Body: "Su vehículo está listo"})
	require.NoError(t, err)
	assert.Equal(t, "sns-1", receipt.ProviderMessageID)
}

func TestPushAdapter_Errors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "endpoint disabled", err: &snstypes.EndpointDisabledException{}, retryable: false},
		{name: "not found", err: &snstypes.NotFoundException{}, retryable: false},
		{name: "throttled", err: &smithy.GenericAPIError{Code: "Throttled"}, retryable: true},
		{name: "network", err: errors.New("dial tcp: i/o timeout"), retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockSNSService{
				PublishFunc: func(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
					return nil, tt.err
				},
			}
			a := NewPushAdapter(mock, PushConfig{}, logger.NewNoOpLogger())
			_, err := a.Send(context.Background(), Message{Destination: "arn:aws:sns:x", Body: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}

	a := NewPushAdapter(&MockSNSService{}, PushConfig{}, logger.NewNoOpLogger())
	_, err := a.Send(context.Background(), Message{Destination: "", Body: "x"})
	require.Error(t, err)
	assert.Equal(t, "PUSH_NO_SUBSCRIPTION", ErrorCode(err))
}

// ==========================
// Registry
// ==========================

func TestRegistry_Lookup(t *testing.T) {
	reg := Registry{models.ChannelEmail: NewLogAdapter("email", logger.NewNoOpLogger())}

	a, err := reg.Lookup(models.ChannelEmail)
	require.NoError(t, err)
	receipt, err := a.Send(context.Background(), Message{EventID: "e1"})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.ProviderMessageID)

	_, err = reg.Lookup(models.ChannelPush)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAdapterNotConfigured)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, []models.Channel{models.ChannelEmail}, reg.Channels())
}
