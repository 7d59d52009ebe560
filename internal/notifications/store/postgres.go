package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"service-notifications/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the rule and attempt tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const (
	queryServiceType = `SELECT slug, name, parent_slug FROM service_types WHERE slug = $1`
	queryPhase       = `SELECT slug, name, sort_order FROM service_phases WHERE slug = $1`
	queryAllTypes    = `SELECT slug, name, parent_slug FROM service_types ORDER BY slug`
	queryAllPhases   = `SELECT slug, name, sort_order FROM service_phases ORDER BY sort_order`

	queryConfig = `
		SELECT id, service_type_slug, audience, workshop_id, is_active, updated_at
		FROM orchestration_configs
		WHERE service_type_slug = $1 AND audience = $2 AND workshop_id = $3 AND is_active`

	queryPhaseChannels = `
		SELECT config_id, phase_slug, channel, enabled, template_id
		FROM phase_channel_configs
		WHERE config_id = $1 AND phase_slug = $2
		ORDER BY channel`

	templateColumns = `id, name, service_type_slug, phase_slug, channel, audience, subtype_slug, subject, body, is_active`

	queryFindTemplate = `
		SELECT ` + templateColumns + `
		FROM notification_templates
		WHERE service_type_slug = $1 AND phase_slug = $2 AND channel = $3 AND audience = $4
		  AND is_active AND (subtype_slug = '' OR subtype_slug = $5)
		ORDER BY (subtype_slug <> '') DESC, id
		LIMIT 1`

	queryTemplateByID = `SELECT ` + templateColumns + ` FROM notification_templates WHERE id = $1 AND is_active`

	queryCustomer = `
		SELECT customer_id, first_name, last_name, email, phone, chat_number, push_endpoint
		FROM customers WHERE customer_id = $1`

	queryPreferences = `
		SELECT channel, priority
		FROM customer_channel_preferences
		WHERE customer_id = $1 AND enabled
		ORDER BY priority, channel`
)

// PostgresStore implements ConfigStore on the rule tables in schema.sql.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) GetServiceType(ctx context.Context, slug string) (*models.ServiceType, error) {
	var st models.ServiceType
	err := s.db.QueryRowContext(ctx, queryServiceType, slug).Scan(&st.Slug, &st.Name, &st.ParentSlug)
	if err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

func (s *PostgresStore) GetPhase(ctx context.Context, slug string) (*models.ServicePhase, error) {
	var p models.ServicePhase
	err := s.db.QueryRowContext(ctx, queryPhase, slug).Scan(&p.Slug, &p.Name, &p.Order)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *PostgresStore) Catalog(ctx context.Context) (*models.Catalog, error) {
	cat := &models.Catalog{}

	rows, err := s.db.QueryContext(ctx, queryAllTypes)
	if err != nil {
		return nil, fmt.Errorf("query service types: %w", err)
	}
	for rows.Next() {
		var st models.ServiceType
		if err := rows.Scan(&st.Slug, &st.Name, &st.ParentSlug); err != nil {
			rows.Close()
			return nil, err
		}
		cat.ServiceTypes = append(cat.ServiceTypes, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, queryAllPhases)
	if err != nil {
		return nil, fmt.Errorf("query phases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p models.ServicePhase
		if err := rows.Scan(&p.Slug, &p.Name, &p.Order); err != nil {
			return nil, err
		}
		cat.Phases = append(cat.Phases, p)
	}
	return cat, rows.Err()
}

func (s *PostgresStore) FindOrchestrationConfig(ctx context.Context, serviceTypeSlug string, audience models.Audience, workshopID string) (*models.OrchestrationConfig, error) {
	if workshopID != "" {
		cfg, err := s.queryConfig(ctx, serviceTypeSlug, audience, workshopID)
		if !errors.Is(err, ErrNotFound) {
			return cfg, err
		}
	}
	return s.queryConfig(ctx, serviceTypeSlug, audience, "")
}

func (s *PostgresStore) queryConfig(ctx context.Context, serviceTypeSlug string, audience models.Audience, workshopID string) (*models.OrchestrationConfig, error) {
	var c models.OrchestrationConfig
	var aud string
	err := s.db.QueryRowContext(ctx, queryConfig, serviceTypeSlug, string(audience), workshopID).
		Scan(&c.ID, &c.ServiceTypeSlug, &aud, &c.WorkshopID, &c.Active, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	c.Audience = models.Audience(aud)
	return &c, nil
}

func (s *PostgresStore) ListPhaseChannelConfigs(ctx context.Context, configID, phaseSlug string) ([]models.PhaseChannelConfig, error) {
	rows, err := s.db.QueryContext(ctx, queryPhaseChannels, configID, phaseSlug)
	if err != nil {
		return nil, fmt.Errorf("query phase channels: %w", err)
	}
	defer rows.Close()

	var out []models.PhaseChannelConfig
	for rows.Next() {
		var (
			row      models.PhaseChannelConfig
			channel  string
			template sql.NullString
		)
		if err := rows.Scan(&row.ConfigID, &row.PhaseSlug, &channel, &row.Enabled, &template); err != nil {
			return nil, err
		}
		ch, err := models.ParseChannel(channel)
		if err != nil {
			return nil, fmt.Errorf("config %s phase %s: %w", configID, phaseSlug, err)
		}
		row.Channel = ch
		row.TemplateRef = template.String
		out = append(out, row)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(r rowScanner) (*models.NotificationTemplate, error) {
	var (
		t                 models.NotificationTemplate
		channel, audience string
	)
	if err := r.Scan(&t.ID, &t.Name, &t.ServiceTypeSlug, &t.PhaseSlug, &channel, &audience,
		&t.SubtypeSlug, &t.Subject, &t.Body, &t.Active); err != nil {
		return nil, notFound(err)
	}
	ch, err := models.ParseChannel(channel)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", t.ID, err)
	}
	t.Channel = ch
	t.Audience = models.Audience(audience)
	return &t, nil
}

func (s *PostgresStore) FindTemplate(ctx context.Context, serviceTypeSlug, phaseSlug string, channel models.Channel, audience models.Audience, subtypeSlug string) (*models.NotificationTemplate, error) {
	row := s.db.QueryRowContext(ctx, queryFindTemplate,
		serviceTypeSlug, phaseSlug, string(channel), string(audience), subtypeSlug)
	return scanTemplate(row)
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*models.NotificationTemplate, error) {
	return scanTemplate(s.db.QueryRowContext(ctx, queryTemplateByID, id))
}

func (s *PostgresStore) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	var c models.Customer
	err := s.db.QueryRowContext(ctx, queryCustomer, customerID).
		Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.ChatNumber, &c.PushEndpoint)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *PostgresStore) GetCustomerPreferences(ctx context.Context, customerID string) ([]models.ChannelPreference, error) {
	rows, err := s.db.QueryContext(ctx, queryPreferences, customerID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var out []models.ChannelPreference
	for rows.Next() {
		var (
			channel string
			pref    models.ChannelPreference
		)
		if err := rows.Scan(&channel, &pref.Priority); err != nil {
			return nil, err
		}
		ch, err := models.ParseChannel(channel)
		if err != nil {
			continue
		}
		pref.Channel = ch
		out = append(out, pref)
	}
	return out, rows.Err()
}
