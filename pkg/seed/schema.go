// pkg/seed/schema.go
package seed

import "service-notifications/internal/models"

// Seed is the on-disk description of the orchestration rule tables.
type Seed struct {
	Version      string                        `json:"version"`
	LastUpdated  string                        `json:"lastUpdated"`
	Phases       []models.ServicePhase         `json:"phases"`
	ServiceTypes []models.ServiceType          `json:"serviceTypes"`
	Configs      []Config                      `json:"configs"`
	Templates    []models.NotificationTemplate `json:"templates"`
	Customers    []Customer                    `json:"customers,omitempty"`
}

// Config is an orchestration config together with its phase/channel rows.
type Config struct {
	models.OrchestrationConfig
	Channels []models.PhaseChannelConfig `json:"channels"`
}

// Customer is a customer record together with its ranked channels.
type Customer struct {
	models.Customer
	Preferences []models.ChannelPreference `json:"preferences,omitempty"`
}
