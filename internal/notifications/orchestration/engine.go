// Package orchestration turns a workflow event into a dispatch plan: it
// resolves the catalog, the audience config and the customer's channel
// ranking, validates every template up front and hands the rendered payloads
// to the dispatcher.
package orchestration

import (
	"context"
	stderrors "errors"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"service-notifications/internal/common/errors"
	"service-notifications/internal/common/logger"
	"service-notifications/internal/common/metrics"
	"service-notifications/internal/common/observability"
	"service-notifications/internal/models"
	"service-notifications/internal/notifications/dispatch"
	"service-notifications/internal/notifications/store"
	"service-notifications/internal/notifications/template"
)

// DisplayNameKey is the only context variable filled from the customer record.
const DisplayNameKey = "nombre"

// Submitter accepts a dispatch plan; *dispatch.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, plan dispatch.Plan) (bool, error)
}

// Result describes an accepted request.
type Result struct {
	EventID   string
	Channels  []models.Channel
	Skipped   []models.Channel
	NoOp      bool
	Duplicate bool
}

type Engine struct {
	store      store.ConfigStore
	dispatcher Submitter
	logger     logger.Logger
	newID      func() string
}

func NewEngine(configStore store.ConfigStore, dispatcher Submitter, log logger.Logger) *Engine {
	return &Engine{
		store:      configStore,
		dispatcher: dispatcher,
		logger:     log.Named("orchestration"),
		newID:      uuid.NewString,
	}
}

// Dispatch validates the request against the stored rules and enqueues the
// channel sequence. Every error it returns is a *errors.StandardError.
func (e *Engine) Dispatch(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := observability.Tracer().Start(ctx, "orchestration.dispatch", trace.WithAttributes(
		attribute.String("service_type", req.ServiceTypeID),
		attribute.String("phase", req.PhaseID),
		attribute.String("audience", string(req.Target)),
	))
	defer func() {
		status := "queued"
		if err != nil {
			span.RecordError(err)
			status = string(ToResponse(nil, err).Status)
		} else if res.NoOp {
			status = "noop"
		}
		metrics.EventsReceived.WithLabelValues(status).Inc()
		span.End()
	}()

	if err := req.Validate(); err != nil {
		return nil, errors.NewInvalidRequestError(err.Error())
	}
	if req.EventID == "" {
		req.EventID = e.newID()
	}
	log := e.logger.WithFields(map[string]interface{}{
		"eventId":     req.EventID,
		"serviceType": req.ServiceTypeID,
		"phase":       req.PhaseID,
		"audience":    req.Target,
	})

	// 1. catalog
	serviceType, subtype, err := e.resolveServiceType(ctx, req.ServiceTypeID, req.SubtypeID)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.GetPhase(ctx, req.PhaseID); err != nil {
		return nil, lookupError(err, "phase lookup", errors.NewCatalogSlugNotFoundError("phase", req.PhaseID))
	}

	// 2. config
	cfg, err := e.store.FindOrchestrationConfig(ctx, serviceType, req.Target, req.WorkshopID)
	if err != nil {
		return nil, lookupError(err, "config lookup", errors.NewConfigurationNotFoundError(serviceType, string(req.Target)))
	}

	// 3. phase channels
	rows, err := e.store.ListPhaseChannelConfigs(ctx, cfg.ID, req.PhaseID)
	if err != nil {
		return nil, errors.NewStoreUnavailableError("channel config lookup", err)
	}
	enabled, disabled := Partition(rows)

	// 4. channel order
	customer, err := e.store.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, lookupError(err, "customer lookup", errors.NewCustomerNotFoundError(req.CustomerID))
	}
	prefs, err := e.store.GetCustomerPreferences(ctx, req.CustomerID)
	if err != nil {
		return nil, errors.NewStoreUnavailableError("preference lookup", err)
	}
	order := ResolveChannelOrder(prefs, enabled, disabled)
	if len(order) == 0 {
		log.Info("No channel resolved for event, nothing dispatched", map[string]interface{}{"configId": cfg.ID})
		return &Result{EventID: req.EventID, NoOp: true}, nil
	}

	// 5. context
	vars := enrich(req.Context, customer)

	// 6. templates, all validated before anything is sent
	templates := make(map[models.Channel]*models.NotificationTemplate, len(order))
	var kept, skipped []models.Channel
	missing := make(map[string]struct{})
	for _, ch := range order {
		tpl, err := e.resolveTemplate(ctx, rows, serviceType, req.PhaseID, ch, req.Target, subtype)
		if stderrors.Is(err, store.ErrNotFound) {
			log.Warn("No template for enabled channel, channel skipped", map[string]interface{}{"channel": ch})
			skipped = append(skipped, ch)
			continue
		}
		if err != nil {
			return nil, errors.NewStoreUnavailableError("template lookup", err)
		}
		for _, name := range template.Validate(tpl.Subject, vars) {
			missing[name] = struct{}{}
		}
		for _, name := range template.Validate(tpl.Body, vars) {
			missing[name] = struct{}{}
		}
		templates[ch] = tpl
		kept = append(kept, ch)
	}
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		log.Info("Dispatch rejected, context is missing template variables", map[string]interface{}{"missing": names})
		return nil, errors.NewValidationFailedError(names)
	}
	if len(kept) == 0 {
		log.Info("No enabled channel has a template, nothing dispatched", nil)
		return &Result{EventID: req.EventID, NoOp: true, Skipped: skipped}, nil
	}

	// 7. render and hand off
	plan := dispatch.Plan{
		EventID:       req.EventID,
		CorrelationID: req.CorrelationID,
		CustomerID:    req.CustomerID,
		Order:         kept,
		Payloads:      make(map[models.Channel]models.ChannelPayload, len(kept)),
	}
	for _, ch := range kept {
		tpl := templates[ch]
		subject, err := template.Render(tpl.Subject, vars)
		if err != nil {
			return nil, errors.NewTemplateRenderFailedError(tpl.ID, err)
		}
		body, err := template.Render(tpl.Body, vars)
		if err != nil {
			return nil, errors.NewTemplateRenderFailedError(tpl.ID, err)
		}
		plan.Payloads[ch] = models.ChannelPayload{TemplateID: tpl.ID, Subject: subject, Body: body}
	}

	accepted, err := e.dispatcher.Submit(ctx, plan)
	if err != nil {
		if stdErr, ok := errors.AsStandardError(err); ok {
			return nil, stdErr
		}
		return nil, errors.NewInternalError(err)
	}

	log.Info("Dispatch accepted", map[string]interface{}{
		"channels":  kept,
		"duplicate": !accepted,
	})
	return &Result{EventID: req.EventID, Channels: kept, Skipped: skipped, Duplicate: !accepted}, nil
}

// resolveServiceType returns the parent service type slug and the subtype
// slug. A subtype may be named directly as the service type.
func (e *Engine) resolveServiceType(ctx context.Context, serviceTypeID, subtypeID string) (string, string, error) {
	st, err := e.store.GetServiceType(ctx, serviceTypeID)
	if err != nil {
		return "", "", lookupError(err, "service type lookup", errors.NewCatalogSlugNotFoundError("service type", serviceTypeID))
	}
	if st.IsSubtype() {
		if subtypeID != "" && subtypeID != st.Slug {
			return "", "", errors.NewCatalogSlugNotFoundError("subtype", subtypeID)
		}
		return st.ParentSlug, st.Slug, nil
	}
	if subtypeID == "" {
		return st.Slug, "", nil
	}

	sub, err := e.store.GetServiceType(ctx, subtypeID)
	if err != nil {
		return "", "", lookupError(err, "subtype lookup", errors.NewCatalogSlugNotFoundError("subtype", subtypeID))
	}
	if sub.ParentSlug != st.Slug {
		return "", "", errors.NewCatalogSlugNotFoundError("subtype", subtypeID)
	}
	return st.Slug, sub.Slug, nil
}

// resolveTemplate prefers the row's explicit template reference over the
// catalog lookup.
func (e *Engine) resolveTemplate(ctx context.Context, rows []models.PhaseChannelConfig, serviceType, phase string, ch models.Channel, audience models.Audience, subtype string) (*models.NotificationTemplate, error) {
	for _, r := range rows {
		if r.Channel == ch && r.TemplateRef != "" {
			tpl, err := e.store.GetTemplate(ctx, r.TemplateRef)
			if err == nil && tpl.Active {
				return tpl, nil
			}
			if err != nil && !stderrors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			break
		}
	}
	return e.store.FindTemplate(ctx, serviceType, phase, ch, audience, subtype)
}

// enrich copies the caller context and fills the display name when the
// caller did not provide it under any spelling.
func enrich(in map[string]string, customer *models.Customer) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	for k := range out {
		if template.FoldKey(k) == DisplayNameKey {
			return out
		}
	}
	if name := customer.DisplayName(); name != "" {
		out[DisplayNameKey] = name
	}
	return out
}

func lookupError(err error, op string, notFound *errors.StandardError) *errors.StandardError {
	if stderrors.Is(err, store.ErrNotFound) {
		return notFound
	}
	return errors.NewStoreUnavailableError(op, err)
}
