// internal/models/catalog.go
package models

import (
	"strings"
	"time"
)

type ServicePhase struct {
	Slug  string `json:"slug"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

type ServiceType struct {
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	ParentSlug string `json:"parentSlug,omitempty"`
}

// IsSubtype reports whether the type hangs off a parent service type.
func (s ServiceType) IsSubtype() bool {
	return s.ParentSlug != ""
}

// Catalog is the full set of slugs the orchestrator accepts.
type Catalog struct {
	ServiceTypes []ServiceType  `json:"serviceTypes"`
	Phases       []ServicePhase `json:"phases"`
}

type OrchestrationConfig struct {
	ID              string    `json:"id"`
	ServiceTypeSlug string    `json:"serviceTypeSlug"`
	Audience        Audience  `json:"audience"`
	WorkshopID      string    `json:"workshopId,omitempty"`
	Active          bool      `json:"active"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// IsGlobal reports whether the config applies to every workshop.
func (c OrchestrationConfig) IsGlobal() bool {
	return c.WorkshopID == ""
}

type PhaseChannelConfig struct {
	ConfigID    string  `json:"configId"`
	PhaseSlug   string  `json:"phaseSlug"`
	Channel     Channel `json:"channel"`
	Enabled     bool    `json:"enabled"`
	TemplateRef string  `json:"templateRef,omitempty"`
}

type ChannelPreference struct {
	Channel  Channel `json:"channel"`
	Priority int     `json:"priority"`
}

type NotificationTemplate struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	ServiceTypeSlug string   `json:"serviceTypeSlug"`
	PhaseSlug       string   `json:"phaseSlug"`
	Channel         Channel  `json:"channel"`
	Audience        Audience `json:"audience"`
	SubtypeSlug     string   `json:"subtypeSlug,omitempty"`
	Subject         string   `json:"subject,omitempty"`
	Body            string   `json:"body"`
	Active          bool     `json:"active"`
}

type Customer struct {
	ID           string `json:"customerId"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	ChatNumber   string `json:"chatNumber,omitempty"`
	PushEndpoint string `json:"pushEndpoint,omitempty"`
}

func (c Customer) DisplayName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// AddressFor returns the destination for a channel, or "" when the customer
// cannot be reached on it. Chat falls back to the phone number.
func (c Customer) AddressFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelChat:
		if c.ChatNumber != "" {
			return c.ChatNumber
		}
		return c.Phone
	case ChannelPush:
		return c.PushEndpoint
	}
	return ""
}
