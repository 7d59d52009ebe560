package store

import (
	"context"
	"database/sql"
	"fmt"

	"service-notifications/pkg/seed"
)

const (
	upsertPhase = `
		INSERT INTO service_phases (slug, name, sort_order) VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name, sort_order = EXCLUDED.sort_order`

	upsertServiceType = `
		INSERT INTO service_types (slug, name, parent_slug) VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name, parent_slug = EXCLUDED.parent_slug`

	upsertTemplate = `
		INSERT INTO notification_templates
			(id, name, service_type_slug, phase_slug, channel, audience, subtype_slug, subject, body, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, service_type_slug = EXCLUDED.service_type_slug,
			phase_slug = EXCLUDED.phase_slug, channel = EXCLUDED.channel, audience = EXCLUDED.audience,
			subtype_slug = EXCLUDED.subtype_slug, subject = EXCLUDED.subject, body = EXCLUDED.body,
			is_active = EXCLUDED.is_active`

	upsertConfig = `
		INSERT INTO orchestration_configs (id, service_type_slug, audience, workshop_id, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET is_active = EXCLUDED.is_active, updated_at = NOW()`

	upsertPhaseChannel = `
		INSERT INTO phase_channel_configs (config_id, phase_slug, channel, enabled, template_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (config_id, phase_slug, channel) DO UPDATE SET
			enabled = EXCLUDED.enabled, template_id = EXCLUDED.template_id`

	upsertCustomer = `
		INSERT INTO customers (customer_id, first_name, last_name, email, phone, chat_number, push_endpoint)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (customer_id) DO UPDATE SET
			first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name, email = EXCLUDED.email,
			phone = EXCLUDED.phone, chat_number = EXCLUDED.chat_number, push_endpoint = EXCLUDED.push_endpoint`

	upsertPreference = `
		INSERT INTO customer_channel_preferences (customer_id, channel, priority, enabled)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (customer_id, channel) DO UPDATE SET priority = EXCLUDED.priority, enabled = TRUE`
)

// ImportSeed upserts every row of s in a single transaction. Existing rows not
// mentioned in the seed are left alone.
func ImportSeed(ctx context.Context, db *sql.DB, s *seed.Seed) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	exec := func(query string, args ...interface{}) error {
		_, execErr := tx.ExecContext(ctx, query, args...)
		return execErr
	}

	for _, p := range s.Phases {
		if err = exec(upsertPhase, p.Slug, p.Name, p.Order); err != nil {
			return fmt.Errorf("phase %s: %w", p.Slug, err)
		}
	}
	for _, st := range s.ServiceTypes {
		if err = exec(upsertServiceType, st.Slug, st.Name, st.ParentSlug); err != nil {
			return fmt.Errorf("service type %s: %w", st.Slug, err)
		}
	}
	for _, t := range s.Templates {
		if err = exec(upsertTemplate, t.ID, t.Name, t.ServiceTypeSlug, t.PhaseSlug, string(t.Channel),
			string(t.Audience), t.SubtypeSlug, t.Subject, t.Body, t.Active); err != nil {
			return fmt.Errorf("template %s: %w", t.ID, err)
		}
	}
	for _, c := range s.Configs {
		if err = exec(upsertConfig, c.ID, c.ServiceTypeSlug, string(c.Audience), c.WorkshopID, c.Active); err != nil {
			return fmt.Errorf("config %s: %w", c.ID, err)
		}
		for _, row := range c.Channels {
			if err = exec(upsertPhaseChannel, c.ID, row.PhaseSlug, string(row.Channel), row.Enabled, row.TemplateRef); err != nil {
				return fmt.Errorf("config %s row %s/%s: %w", c.ID, row.PhaseSlug, row.Channel, err)
			}
		}
	}
	for _, c := range s.Customers {
		if err = exec(upsertCustomer, c.ID, c.FirstName, c.LastName, c.Email, c.Phone, c.ChatNumber, c.PushEndpoint); err != nil {
			return fmt.Errorf("customer %s: %w", c.ID, err)
		}
		for _, p := range c.Preferences {
			if err = exec(upsertPreference, c.ID, string(p.Channel), p.Priority); err != nil {
				return fmt.Errorf("customer %s preference %s: %w", c.ID, p.Channel, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}
