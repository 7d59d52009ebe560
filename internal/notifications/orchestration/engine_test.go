package orchestration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "service-notifications/internal/common/errors"
	"service-notifications/internal/common/logger"
	"service-notifications/internal/models"
	"service-notifications/internal/notifications/channels"
	"service-notifications/internal/notifications/dispatch"
	"service-notifications/internal/notifications/store"
	"service-notifications/pkg/seed"
)

// ==========================
// Test Doubles
// ==========================

type MockSubmitter struct {
	SubmitFunc func(ctx context.Context, plan dispatch.Plan) (bool, error)
	plans      []dispatch.Plan
}

func (m *MockSubmitter) Submit(ctx context.Context, plan dispatch.Plan) (bool, error) {
	m.plans = append(m.plans, plan)
	if m.SubmitFunc == nil {
		return true, nil
	}
	return m.SubmitFunc(ctx, plan)
}

type stubAdapter struct {
	messages []channels.Message
}

func (s *stubAdapter) Send(ctx context.Context, msg channels.Message) (channels.Receipt, error) {
	s.messages = append(s.messages, msg)
	return channels.Receipt{ProviderMessageID: "stub-1"}, nil
}

// ==========================
// Fixtures
// ==========================

func scenarioSeed() *seed.Seed {
	return &seed.Seed{
		Phases: []models.ServicePhase{
			{Slug: "phase-schedule", Name: "Agendar Cita", Order: 1},
			{Slug: "phase-reception", Name: "Recepción", Order: 2},
		},
		ServiceTypes: []models.ServiceType{
			{Slug: "mantenimiento-preventivo", Name: "Mantenimiento Preventivo"},
			{Slug: "averia-revision", Name: "Avería"},
			{Slug: "averia-frenos", Name: "Frenos", ParentSlug: "averia-revision"},
		},
		Configs: []seed.Config{
			{
				OrchestrationConfig: models.OrchestrationConfig{ID: "cfg-mant", ServiceTypeSlug: "mantenimiento-preventivo", Audience: models.AudienceClients, Active: true},
				Channels: []models.PhaseChannelConfig{
					{PhaseSlug: "phase-schedule", Channel: models.ChannelEmail, Enabled: true},
					{PhaseSlug: "phase-schedule", Channel: models.ChannelChat, Enabled: false},
					{PhaseSlug: "phase-schedule", Channel: models.ChannelPush, Enabled: false},
					{PhaseSlug: "phase-reception", Channel: models.ChannelEmail, Enabled: true},
					{PhaseSlug: "phase-reception", Channel: models.ChannelChat, Enabled: true},
				},
			},
			{
				OrchestrationConfig: models.OrchestrationConfig{ID: "cfg-averia", ServiceTypeSlug: "averia-revision", Audience: models.AudienceClients, Active: true},
				Channels: []models.PhaseChannelConfig{
					{PhaseSlug: "phase-reception", Channel: models.ChannelEmail, Enabled: true},
					{PhaseSlug: "phase-reception", Channel: models.ChannelPush, Enabled: true},
				},
			},
		},
		Templates: []models.NotificationTemplate{
			{ID: "tpl-schedule-email", ServiceTypeSlug: "mantenimiento-preventivo", PhaseSlug: "phase-schedule", Channel: models.ChannelEmail, Audience: models.AudienceClients,
				Subject: "Cita para {{Placa}}", Body: "Hola {{Nombre}}, su vehículo {{Placa}} tiene cita.", Active: true},
			{ID: "tpl-schedule-chat", ServiceTypeSlug: "mantenimiento-preventivo", PhaseSlug: "phase-schedule", Channel: models.ChannelChat, Audience: models.AudienceClients,
				Body: "Hola {{Nombre}}", Active: true},
			{ID: "tpl-reception-email", ServiceTypeSlug: "mantenimiento-preventivo", PhaseSlug: "phase-reception", Channel: models.ChannelEmail, Audience: models.AudienceClients,
				Body: "{{Nombre}}: recibimos {{Placa}}", Active: true},
			{ID: "tpl-reception-chat", ServiceTypeSlug: "mantenimiento-preventivo", PhaseSlug: "phase-reception", Channel: models.ChannelChat, Audience: models.AudienceClients,
				Body: "{{Nombre}}: {{Placa}} ingresó, orden {{Orden}}", Active: true},
			{ID: "tpl-averia-email", ServiceTypeSlug: "averia-revision", PhaseSlug: "phase-reception", Channel: models.ChannelEmail, Audience: models.AudienceClients,
				Body: "Revisión general de {{Placa}}", Active: true},
			{ID: "tpl-frenos-email", ServiceTypeSlug: "averia-revision", SubtypeSlug: "averia-frenos", PhaseSlug: "phase-reception", Channel: models.ChannelEmail, Audience: models.AudienceClients,
				Body: "Revisión de frenos de {{Placa}}", Active: true},
		},
		Customers: []seed.Customer{
			{Customer: models.Customer{ID: "CUST-0001", FirstName: "Carlos", LastName: "Andrade", Email: "carlos@example.com", Phone: "+593987654321"}},
			{
				Customer: models.Customer{ID: "CUST-0002", FirstName: "Lucía", LastName: "Mora", Email: "lucia@example.com"},
				Preferences: []models.ChannelPreference{
					{Channel: models.ChannelPush, Priority: 1},
					{Channel: models.ChannelEmail, Priority: 2},
				},
			},
		},
	}
}

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s, err := store.NewMemoryStore(scenarioSeed())
	require.NoError(t, err)
	return s
}

func scheduleRequest() Request {
	return Request{
		EventID:       "evt-1",
		ServiceTypeID: "mantenimiento-preventivo",
		PhaseID:       "phase-schedule",
		CustomerID:    "CUST-0001",
		Target:        models.AudienceClients,
		Context:       map[string]string{"nombre": "Carlos", "placa": "ABC123"},
	}
}

func requireCode(t *testing.T, err error, code commonerrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	stdErr, ok := commonerrors.AsStandardError(err)
	require.True(t, ok, "expected StandardError, got %T", err)
	assert.Equal(t, code, stdErr.Code)
}

// ==========================
// ResolveChannelOrder
// ==========================

func TestResolveChannelOrder(t *testing.T) {
	row := func(ch models.Channel, enabled bool) models.PhaseChannelConfig {
		return models.PhaseChannelConfig{Channel: ch, Enabled: enabled}
	}

	tests := []struct {
		name  string
		prefs []models.ChannelPreference
		rows  []models.PhaseChannelConfig
		want  []models.Channel
	}{
		{
			name: "default order without preferences",
			rows: []models.PhaseChannelConfig{row(models.ChannelPush, true), row(models.ChannelChat, true), row(models.ChannelEmail, true)},
			want: []models.Channel{models.ChannelEmail, models.ChannelChat, models.ChannelPush},
		},
		{
			name:  "disabled preferred channel is dropped",
			prefs: []models.ChannelPreference{{Channel: models.ChannelPush, Priority: 1}, {Channel: models.ChannelEmail, Priority: 2}},
			rows:  []models.PhaseChannelConfig{row(models.ChannelPush, false), row(models.ChannelEmail, true)},
			want:  []models.Channel{models.ChannelEmail},
		},
		{
			name:  "preferences sorted by priority",
			prefs: []models.ChannelPreference{{Channel: models.ChannelEmail, Priority: 3}, {Channel: models.ChannelChat, Priority: 1}},
			rows:  []models.PhaseChannelConfig{row(models.ChannelEmail, true), row(models.ChannelChat, true)},
			want:  []models.Channel{models.ChannelChat, models.ChannelEmail},
		},
		{
			name:  "channels without a phase row are dropped",
			prefs: []models.ChannelPreference{{Channel: models.ChannelChat, Priority: 1}, {Channel: models.ChannelEmail, Priority: 2}},
			rows:  []models.PhaseChannelConfig{row(models.ChannelEmail, true)},
			want:  []models.Channel{models.ChannelEmail},
		},
		{
			name:  "unranked enabled channels are not appended",
			prefs: []models.ChannelPreference{{Channel: models.ChannelChat, Priority: 1}},
			rows:  []models.PhaseChannelConfig{row(models.ChannelEmail, true), row(models.ChannelChat, true)},
			want:  []models.Channel{models.ChannelChat},
		},
		{
			name:  "duplicates collapse",
			prefs: []models.ChannelPreference{{Channel: models.ChannelChat, Priority: 1}, {Channel: models.ChannelChat, Priority: 2}},
			rows:  []models.PhaseChannelConfig{row(models.ChannelChat, true)},
			want:  []models.Channel{models.ChannelChat},
		},
		{
			name: "nothing enabled",
			rows: []models.PhaseChannelConfig{row(models.ChannelEmail, false)},
			want: []models.Channel{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled, disabled := Partition(tt.rows)
			assert.Equal(t, tt.want, ResolveChannelOrder(tt.prefs, enabled, disabled))
		})
	}
}

func TestResolveChannelOrder_DisabledNeverLeaks(t *testing.T) {
	all := models.DefaultChannelOrder
	rankings := [][]models.ChannelPreference{
		nil,
		{{Channel: models.ChannelPush, Priority: 1}, {Channel: models.ChannelChat, Priority: 2}, {Channel: models.ChannelEmail, Priority: 3}},
		{{Channel: models.ChannelChat, Priority: 1}},
		{{Channel: models.ChannelEmail, Priority: 5}, {Channel: models.ChannelPush, Priority: 1}},
	}

	for _, off := range all {
		var rows []models.PhaseChannelConfig
		for _, ch := range all {
			rows = append(rows, models.PhaseChannelConfig{Channel: ch, Enabled: ch != off})
		}
		enabled, disabled := Partition(rows)
		for _, prefs := range rankings {
			assert.NotContains(t, ResolveChannelOrder(prefs, enabled, disabled), off)
		}
	}
}

// ==========================
// Engine
// ==========================

func TestEngine_EndToEndSchedulePhase(t *testing.T) {
	cs := newTestStore(t)
	email := &stubAdapter{}
	queue := dispatch.NewMemoryQueue()
	attempts := dispatch.NewMemoryAttemptLog()
	d := dispatch.NewDispatcher(queue, attempts, cs, channels.Registry{models.ChannelEmail: email}, dispatch.DefaultPolicy(), logger.NewTestLogger(t))
	scheduler := dispatch.NewScheduler(queue, d, dispatch.SchedulerConfig{}, logger.NewNoOpLogger())
	engine := NewEngine(cs, d, logger.NewTestLogger(t))

	res, err := engine.Dispatch(context.Background(), scheduleRequest())
	require.NoError(t, err)
	assert.Equal(t, []models.Channel{models.ChannelEmail}, res.Channels)
	assert.Equal(t, StatusQueued, ToResponse(res, nil).Status)

	processed, err := scheduler.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.Len(t, email.messages, 1)
	assert.Equal(t, "Hola Carlos, su vehículo ABC123 tiene cita.", email.messages[0].Body)
	assert.Equal(t, "Cita para ABC123", email.messages[0].Subject)
	assert.Equal(t, "carlos@example.com", email.messages[0].Destination)

	history, err := attempts.History(context.Background(), "evt-1")
	require.NoError(t, err)
	var sent []models.DispatchAttempt
	for _, a := range history {
		if a.Status == models.AttemptSent {
			sent = append(sent, a)
		}
	}
	require.Len(t, sent, 1)
	assert.Equal(t, models.ChannelEmail, sent[0].Channel)
	assert.Equal(t, 1, sent[0].AttemptNumber)
}

func TestEngine_DuplicateRequestSendsOnce(t *testing.T) {
	cs := newTestStore(t)
	email := &stubAdapter{}
	queue := dispatch.NewMemoryQueue()
	d := dispatch.NewDispatcher(queue, dispatch.NewMemoryAttemptLog(), cs, channels.Registry{models.ChannelEmail: email}, dispatch.DefaultPolicy(), logger.NewNoOpLogger())
	scheduler := dispatch.NewScheduler(queue, d, dispatch.SchedulerConfig{}, logger.NewNoOpLogger())
	engine := NewEngine(cs, d, logger.NewNoOpLogger())
	ctx := context.Background()

	_, err := engine.Dispatch(ctx, scheduleRequest())
	require.NoError(t, err)
	_, err = scheduler.Drain(ctx)
	require.NoError(t, err)

	res, err := engine.Dispatch(ctx, scheduleRequest())
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	_, err = scheduler.Drain(ctx)
	require.NoError(t, err)

	assert.Len(t, email.messages, 1)
}

func TestEngine_FailFastValidation(t *testing.T) {
	submitter := &MockSubmitter{}
	engine := NewEngine(newTestStore(t), submitter, logger.NewNoOpLogger())

	req := scheduleRequest()
	req.PhaseID = "phase-reception" // email satisfied, chat needs {{Orden}}

	res, err := engine.Dispatch(context.Background(), req)
	assert.Nil(t, res)
	requireCode(t, err, commonerrors.ErrCodeValidationFailed)
	assert.Empty(t, submitter.plans, "nothing is dispatched when any channel is incomplete")

	resp := ToResponse(res, err)
	assert.Equal(t, StatusRejected, resp.Status)
	assert.Equal(t, []string{"Orden"}, resp.MissingVariables)
}

func TestEngine_AccentInsensitiveContext(t *testing.T) {
	submitter := &MockSubmitter{}
	engine := NewEngine(newTestStore(t), submitter, logger.NewNoOpLogger())

	req := scheduleRequest()
	req.PhaseID = "phase-reception"
	req.Context = map[string]string{"PLACA": "ABC123", "órden": "OT-77"}

	res, err := engine.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []models.Channel{models.ChannelEmail, models.ChannelChat}, res.Channels)

	require.Len(t, submitter.plans, 1)
	plan := submitter.plans[0]
	assert.Equal(t, "Carlos Andrade: ABC123 ingresó, orden OT-77", plan.Payloads[models.ChannelChat].Body)
}

func TestEngine_CallerNameWinsOverAutoFill(t *testing.T) {
	submitter := &MockSubmitter{}
	engine := NewEngine(newTestStore(t), submitter, logger.NewNoOpLogger())

	req := scheduleRequest()
	req.Context = map[string]string{"Nombre": "Don Carlos", "placa": "ABC123"}

	_, err := engine.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Hola Don Carlos, su vehículo ABC123 tiene cita.", submitter.plans[0].Payloads[models.ChannelEmail].Body)
}

func TestEngine_OnlyDisplayNameIsAutoFilled(t *testing.T) {
	submitter := &MockSubmitter{}
	engine := NewEngine(newTestStore(t), submitter, logger.NewNoOpLogger())

	req := scheduleRequest()
	req.Context = map[string]string{}

	_, err := engine.Dispatch(context.Background(), req)
	requireCode(t, err, commonerrors.ErrCodeValidationFailed)
	assert.Equal(t, []string{"Placa"}, ToResponse(nil, err).MissingVariables)
}

func TestEngine_ChannelWithoutTemplateIsSkipped(t *testing.T) {
	submitter := &MockSubmitter{}
	engine := NewEngine(newTestStore(t), submitter, logger.NewNoOpLogger())

	// Lucía ranks push first; the averia config enables push and email for reception
	req := Request{
		ServiceTypeID: "averia-revision",
		PhaseID:       "phase-reception",
		CustomerID:    "CUST-0002",
		Target:        models.AudienceClients,
		Context:       map[string]string{"placa": "PBX-1234"},
	}
	res, err := engine.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []models.Channel{models.ChannelEmail}, res.Channels, "push has no template and is skipped")
	assert.Equal(t, []models.Channel{models.ChannelPush}, res.Skipped)
	assert.NotEmpty(t, res.EventID, "event id is generated")
}

func TestEngine_SubtypeTemplate(t *testing.T) {
	tests := []struct {
		name        string
		serviceType string
		subtype     string
		wantBody    string
	}{
		{name: "explicit subtype", serviceType: "averia-revision", subtype: "averia-frenos", wantBody: "Revisión de frenos de ABC123"},
		{name: "subtype as service type", serviceType: "averia-frenos", wantBody: "Revisión de frenos de ABC123"},
		{name: "generic", serviceType: "averia-revision", wantBody: "Revisión general de ABC123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			submitter := &MockSubmitter{}
			engine := NewEngine(newTestStore(t), submitter, logger.NewNoOpLogger())

			_, err := engine.Dispatch(context.Background(), Request{
				ServiceTypeID: tt.serviceType,
				SubtypeID:     tt.subtype,
				PhaseID:       "phase-reception",
				CustomerID:    "CUST-0001",
				Target:        models.AudienceClients,
				Context:       map[string]string{"placa": "ABC123"},
			})
			require.NoError(t, err)
			require.Len(t, submitter.plans, 1)
			assert.Equal(t, tt.wantBody, submitter.plans[0].Payloads[models.ChannelEmail].Body)
		})
	}
}

func TestEngine_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Request)
		code   commonerrors.ErrorCode
	}{
		{name: "unknown service type", mutate: func(r *Request) { r.ServiceTypeID = "lavado" }, code: commonerrors.ErrCodeCatalogSlugNotFound},
		{name: "unknown phase", mutate: func(r *Request) { r.PhaseID = "phase-paint" }, code: commonerrors.ErrCodeCatalogSlugNotFound},
		{name: "subtype of another parent", mutate: func(r *Request) { r.SubtypeID = "averia-frenos" }, code: commonerrors.ErrCodeCatalogSlugNotFound},
		{name: "no config for audience", mutate: func(r *Request) { r.Target = models.AudienceStaff }, code: commonerrors.ErrCodeConfigurationNotFound},
		{name: "unknown customer", mutate: func(r *Request) { r.CustomerID = "CUST-9999" }, code: commonerrors.ErrCodeCustomerNotFound},
		{name: "bad audience", mutate: func(r *Request) { r.Target = "everyone" }, code: commonerrors.ErrCodeInvalidRequest},
		{name: "missing customer id", mutate: func(r *Request) { r.CustomerID = "" }, code: commonerrors.ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			submitter := &MockSubmitter{}
			engine := NewEngine(newTestStore(t), submitter, logger.NewNoOpLogger())

			req := scheduleRequest()
			tt.mutate(&req)
			_, err := engine.Dispatch(context.Background(), req)
			requireCode(t, err, tt.code)
			assert.Empty(t, submitter.plans)
			assert.Equal(t, StatusRejected, ToResponse(nil, err).Status)
		})
	}
}

func TestEngine_ZeroChannelsIsNoOp(t *testing.T) {
	s := scenarioSeed()
	for i := range s.Configs[0].Channels {
		s.Configs[0].Channels[i].Enabled = false
	}
	cs, err := store.NewMemoryStore(s)
	require.NoError(t, err)
	submitter := &MockSubmitter{}

	res, err := NewEngine(cs, submitter, logger.NewNoOpLogger()).Dispatch(context.Background(), scheduleRequest())
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Empty(t, submitter.plans)

	resp := ToResponse(res, nil)
	assert.Equal(t, StatusQueued, resp.Status)
	assert.True(t, resp.NoOp)
}

func TestEngine_QueueFailureIsServerError(t *testing.T) {
	submitter := &MockSubmitter{SubmitFunc: func(ctx context.Context, plan dispatch.Plan) (bool, error) {
		return false, commonerrors.NewQueueUnavailableError(errors.New("redis down"))
	}}
	engine := NewEngine(newTestStore(t), submitter, logger.NewNoOpLogger())

	_, err := engine.Dispatch(context.Background(), scheduleRequest())
	requireCode(t, err, commonerrors.ErrCodeQueueUnavailable)
	assert.Equal(t, StatusServerError, ToResponse(nil, err).Status)
}

type failingStore struct {
	*store.MemoryStore
}

func (f failingStore) FindOrchestrationConfig(ctx context.Context, serviceTypeSlug string, audience models.Audience, workshopID string) (*models.OrchestrationConfig, error) {
	return nil, errors.New("connection refused")
}

func TestEngine_StoreFailureIsServerError(t *testing.T) {
	engine := NewEngine(failingStore{newTestStore(t)}, &MockSubmitter{}, logger.NewNoOpLogger())

	_, err := engine.Dispatch(context.Background(), scheduleRequest())
	requireCode(t, err, commonerrors.ErrCodeStoreUnavailable)
	assert.Equal(t, StatusServerError, ToResponse(nil, err).Status)
}

func TestToResponse_UnclassifiedError(t *testing.T) {
	resp := ToResponse(nil, errors.New("boom"))
	assert.Equal(t, StatusServerError, resp.Status)
	assert.Equal(t, "INTERNAL_ERROR", resp.ErrorCode)

	resp = ToResponse(&Result{EventID: "e", Channels: []models.Channel{models.ChannelChat}, Duplicate: true}, nil)
	assert.Equal(t, StatusQueued, resp.Status)
	assert.True(t, resp.Duplicate)
}
