package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"service-notifications/internal/models"
	"service-notifications/pkg/seed"
)

type configKey struct {
	serviceType string
	audience    models.Audience
	workshopID  string
}

// MemoryStore is a ConfigStore held entirely in memory, built from a seed.
type MemoryStore struct {
	mu          sync.RWMutex
	phases      map[string]models.ServicePhase
	types       map[string]models.ServiceType
	configs     map[configKey]models.OrchestrationConfig
	rows        map[string][]models.PhaseChannelConfig // config id -> rows
	templates   map[string]models.NotificationTemplate
	customers   map[string]models.Customer
	preferences map[string][]models.ChannelPreference
}

// NewMemoryStore loads s after validating it.
func NewMemoryStore(s *seed.Seed) (*MemoryStore, error) {
	if problems := s.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid seed: %s", strings.Join(problems, "; "))
	}

	m := &MemoryStore{
		phases:      make(map[string]models.ServicePhase, len(s.Phases)),
		types:       make(map[string]models.ServiceType, len(s.ServiceTypes)),
		configs:     make(map[configKey]models.OrchestrationConfig, len(s.Configs)),
		rows:        make(map[string][]models.PhaseChannelConfig, len(s.Configs)),
		templates:   make(map[string]models.NotificationTemplate, len(s.Templates)),
		customers:   make(map[string]models.Customer, len(s.Customers)),
		preferences: make(map[string][]models.ChannelPreference, len(s.Customers)),
	}

	for _, p := range s.Phases {
		m.phases[p.Slug] = p
	}
	for _, st := range s.ServiceTypes {
		m.types[st.Slug] = st
	}
	for _, c := range s.Configs {
		m.configs[configKey{c.ServiceTypeSlug, c.Audience, c.WorkshopID}] = c.OrchestrationConfig
		m.rows[c.ID] = append([]models.PhaseChannelConfig(nil), c.Channels...)
	}
	for _, t := range s.Templates {
		m.templates[t.ID] = t
	}
	for _, c := range s.Customers {
		m.customers[c.ID] = c.Customer
		prefs := append([]models.ChannelPreference(nil), c.Preferences...)
		sort.SliceStable(prefs, func(i, j int) bool { return prefs[i].Priority < prefs[j].Priority })
		m.preferences[c.ID] = prefs
	}

	return m, nil
}

func (m *MemoryStore) GetServiceType(_ context.Context, slug string) (*models.ServiceType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.types[slug]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (m *MemoryStore) GetPhase(_ context.Context, slug string) (*models.ServicePhase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.phases[slug]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) Catalog(_ context.Context) (*models.Catalog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cat := &models.Catalog{
		ServiceTypes: make([]models.ServiceType, 0, len(m.types)),
		Phases:       make([]models.ServicePhase, 0, len(m.phases)),
	}
	for _, st := range m.types {
		cat.ServiceTypes = append(cat.ServiceTypes, st)
	}
	for _, p := range m.phases {
		cat.Phases = append(cat.Phases, p)
	}
	sort.Slice(cat.ServiceTypes, func(i, j int) bool { return cat.ServiceTypes[i].Slug < cat.ServiceTypes[j].Slug })
	sort.Slice(cat.Phases, func(i, j int) bool { return cat.Phases[i].Order < cat.Phases[j].Order })
	return cat, nil
}

func (m *MemoryStore) FindOrchestrationConfig(_ context.Context, serviceTypeSlug string, audience models.Audience, workshopID string) (*models.OrchestrationConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := []configKey{{serviceTypeSlug, audience, ""}}
	if workshopID != "" {
		keys = append([]configKey{{serviceTypeSlug, audience, workshopID}}, keys...)
	}
	for _, k := range keys {
		if c, ok := m.configs[k]; ok && c.Active {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListPhaseChannelConfigs(_ context.Context, configID, phaseSlug string) ([]models.PhaseChannelConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.PhaseChannelConfig
	for _, row := range m.rows[configID] {
		if row.PhaseSlug == phaseSlug {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindTemplate(_ context.Context, serviceTypeSlug, phaseSlug string, channel models.Channel, audience models.Audience, subtypeSlug string) (*models.NotificationTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var generic *models.NotificationTemplate
	// iterate in id order so ties resolve the same way as the SQL query
	ids := make([]string, 0, len(m.templates))
	for id := range m.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		t := m.templates[id]
		if !t.Active || t.ServiceTypeSlug != serviceTypeSlug || t.PhaseSlug != phaseSlug ||
			t.Channel != channel || t.Audience != audience {
			continue
		}
		switch {
		case subtypeSlug != "" && t.SubtypeSlug == subtypeSlug:
			return &t, nil
		case t.SubtypeSlug == "" && generic == nil:
			generic = &t
		}
	}
	if generic == nil {
		return nil, ErrNotFound
	}
	return generic, nil
}

func (m *MemoryStore) GetTemplate(_ context.Context, id string) (*models.NotificationTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok || !t.Active {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *MemoryStore) GetCustomer(_ context.Context, customerID string) (*models.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[customerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) GetCustomerPreferences(_ context.Context, customerID string) ([]models.ChannelPreference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ChannelPreference(nil), m.preferences[customerID]...), nil
}

// UpsertCustomer replaces a customer record and its ranking.
func (m *MemoryStore) UpsertCustomer(c models.Customer, prefs []models.ChannelPreference) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c
	sorted := append([]models.ChannelPreference(nil), prefs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	m.preferences[c.ID] = sorted
}

// DeleteCustomer removes a customer; pending deliveries for it end as abandoned.
func (m *MemoryStore) DeleteCustomer(customerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.customers, customerID)
	delete(m.preferences, customerID)
}
