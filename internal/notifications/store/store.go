// Package store is the read side of the orchestration rule tables: catalog,
// configs, channel rows, templates, customers and their channel preferences.
package store

import (
	"context"
	"errors"

	"service-notifications/internal/models"
)

// ErrNotFound is returned by every lookup that finds no row.
var ErrNotFound = errors.New("store: not found")

// ConfigStore is the read contract the orchestration engine and the
// dispatcher depend on. Implementations must be safe for concurrent use.
type ConfigStore interface {
	GetServiceType(ctx context.Context, slug string) (*models.ServiceType, error)
	GetPhase(ctx context.Context, slug string) (*models.ServicePhase, error)
	Catalog(ctx context.Context) (*models.Catalog, error)

	// FindOrchestrationConfig tries the workshop-specific key first and falls
	// back to the global config (empty workshop id).
	FindOrchestrationConfig(ctx context.Context, serviceTypeSlug string, audience models.Audience, workshopID string) (*models.OrchestrationConfig, error)
	ListPhaseChannelConfigs(ctx context.Context, configID, phaseSlug string) ([]models.PhaseChannelConfig, error)

	// FindTemplate prefers a template bound to subtypeSlug over the generic one.
	FindTemplate(ctx context.Context, serviceTypeSlug, phaseSlug string, channel models.Channel, audience models.Audience, subtypeSlug string) (*models.NotificationTemplate, error)
	GetTemplate(ctx context.Context, id string) (*models.NotificationTemplate, error)

	CustomerDirectory
}

// CustomerDirectory resolves customer records and channel rankings.
type CustomerDirectory interface {
	GetCustomer(ctx context.Context, customerID string) (*models.Customer, error)
	// GetCustomerPreferences returns the customer's enabled channels sorted by
	// ascending priority; an empty slice means no ranking.
	GetCustomerPreferences(ctx context.Context, customerID string) ([]models.ChannelPreference, error)
}
