package orchestration

import (
	"sort"

	"service-notifications/internal/models"
)

// Partition splits a phase's channel rows into enabled channels and channels
// that are explicitly switched off.
func Partition(rows []models.PhaseChannelConfig) (enabled, disabled map[models.Channel]bool) {
	enabled = make(map[models.Channel]bool, len(rows))
	disabled = make(map[models.Channel]bool, len(rows))
	for _, r := range rows {
		if r.Enabled {
			enabled[r.Channel] = true
		} else {
			disabled[r.Channel] = true
		}
	}
	return enabled, disabled
}

// ResolveChannelOrder computes the final channel order for one dispatch.
// The customer's ranking (lowest priority first) replaces the default order
// when present. A disabled channel never survives, whatever the ranking says,
// and only channels enabled for the phase are kept.
func ResolveChannelOrder(prefs []models.ChannelPreference, enabled, disabled map[models.Channel]bool) []models.Channel {
	base := models.DefaultChannelOrder
	if len(prefs) > 0 {
		ranked := make([]models.ChannelPreference, len(prefs))
		copy(ranked, prefs)
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Priority < ranked[j].Priority })

		base = make([]models.Channel, 0, len(ranked))
		for _, p := range ranked {
			base = append(base, p.Channel)
		}
	}

	seen := make(map[models.Channel]bool, len(base))
	order := make([]models.Channel, 0, len(base))
	for _, ch := range base {
		if seen[ch] || disabled[ch] || !enabled[ch] {
			continue
		}
		seen[ch] = true
		order = append(order, ch)
	}
	return order
}
