// pkg/seed/seed.go
package seed

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"service-notifications/internal/models"
)

func Load(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a seed document and fills the config id on every channel row.
func Parse(data []byte) (*Seed, error) {
	var s Seed
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	for i := range s.Configs {
		for j := range s.Configs[i].Channels {
			s.Configs[i].Channels[j].ConfigID = s.Configs[i].ID
		}
	}
	return &s, nil
}

// Validate checks referential integrity and the one-row-per-key invariants.
// It returns every problem found, not just the first.
func (s *Seed) Validate() []string {
	var problems []string
	addf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	phases := make(map[string]bool, len(s.Phases))
	for _, p := range s.Phases {
		if phases[p.Slug] {
			addf("duplicate phase %q", p.Slug)
		}
		phases[p.Slug] = true
	}

	types := make(map[string]models.ServiceType, len(s.ServiceTypes))
	for _, st := range s.ServiceTypes {
		if _, dup := types[st.Slug]; dup {
			addf("duplicate service type %q", st.Slug)
		}
		types[st.Slug] = st
	}
	for _, st := range s.ServiceTypes {
		if st.ParentSlug != "" {
			if _, ok := types[st.ParentSlug]; !ok {
				addf("service type %q has unknown parent %q", st.Slug, st.ParentSlug)
			}
		}
	}

	templates := make(map[string]bool, len(s.Templates))
	for _, t := range s.Templates {
		if templates[t.ID] {
			addf("duplicate template id %q", t.ID)
		}
		templates[t.ID] = true
		if _, ok := types[t.ServiceTypeSlug]; !ok {
			addf("template %q references unknown service type %q", t.ID, t.ServiceTypeSlug)
		}
		if t.SubtypeSlug != "" {
			if _, ok := types[t.SubtypeSlug]; !ok {
				addf("template %q references unknown subtype %q", t.ID, t.SubtypeSlug)
			}
		}
		if !phases[t.PhaseSlug] {
			addf("template %q references unknown phase %q", t.ID, t.PhaseSlug)
		}
		if !t.Channel.Valid() {
			addf("template %q has invalid channel %q", t.ID, t.Channel)
		}
		if !t.Audience.Valid() {
			addf("template %q has invalid audience %q", t.ID, t.Audience)
		}
	}

	configIDs := make(map[string]bool, len(s.Configs))
	configKeys := make(map[string]string, len(s.Configs))
	for _, c := range s.Configs {
		if c.ID == "" {
			addf("config for %q/%q has no id", c.ServiceTypeSlug, c.Audience)
			continue
		}
		if configIDs[c.ID] {
			addf("duplicate config id %q", c.ID)
		}
		configIDs[c.ID] = true

		key := strings.Join([]string{c.ServiceTypeSlug, string(c.Audience), c.WorkshopID}, "|")
		if other, dup := configKeys[key]; dup {
			addf("configs %q and %q share key %s", other, c.ID, key)
		}
		configKeys[key] = c.ID

		if _, ok := types[c.ServiceTypeSlug]; !ok {
			addf("config %q references unknown service type %q", c.ID, c.ServiceTypeSlug)
		}
		if !c.Audience.Valid() {
			addf("config %q has invalid audience %q", c.ID, c.Audience)
		}

		rows := make(map[string]bool, len(c.Channels))
		for _, row := range c.Channels {
			rowKey := row.PhaseSlug + "|" + string(row.Channel)
			if rows[rowKey] {
				addf("config %q has more than one row for %s", c.ID, rowKey)
			}
			rows[rowKey] = true
			if !phases[row.PhaseSlug] {
				addf("config %q references unknown phase %q", c.ID, row.PhaseSlug)
			}
			if !row.Channel.Valid() {
				addf("config %q has invalid channel %q", c.ID, row.Channel)
			}
			if row.TemplateRef != "" && !templates[row.TemplateRef] {
				addf("config %q references unknown template %q", c.ID, row.TemplateRef)
			}
		}
	}

	customers := make(map[string]bool, len(s.Customers))
	for _, c := range s.Customers {
		if customers[c.ID] {
			addf("duplicate customer %q", c.ID)
		}
		customers[c.ID] = true
		for _, p := range c.Preferences {
			if !p.Channel.Valid() {
				addf("customer %q prefers invalid channel %q", c.ID, p.Channel)
			}
		}
	}

	return problems
}
