package template

import (
	"strings"
	"unicode/utf8"
)

// ExampleValues are the sample values shown when previewing a template
// without a real event.
var ExampleValues = map[string]string{
	"nombre":   "Juan Pérez",
	"placa":    "ABC-1234",
	"vehiculo": "Haval H6 2024",
	"fase":     "Recepción",
	"fecha":    "15/01/2025",
	"hora":     "10:30",
	"orden":    "OT-2025-001",
	"tecnico":  "Carlos Mendoza",
	"taller":   "Ambacar Quito Norte",
}

// PreviewResult is a best-effort rendering for template editors.
type PreviewResult struct {
	Rendered string   `json:"rendered"`
	Missing  []string `json:"missing"`
	Stats    Stats    `json:"stats"`
}

// Preview renders body against ExampleValues overlaid with overrides.
// Placeholders that still have no value are left untouched and reported.
func Preview(body string, overrides map[string]string) PreviewResult {
	values := make(map[string]string, len(ExampleValues)+len(overrides))
	for k, v := range ExampleValues {
		values[k] = v
	}
	for k, v := range overrides {
		// drop any example that the override shadows under folding
		for ek := range ExampleValues {
			if FoldKey(ek) == FoldKey(k) {
				delete(values, ek)
			}
		}
		values[k] = v
	}

	folded := foldContext(values)
	rendered := placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := folded[FoldKey(name)]; ok {
			return v
		}
		return match
	})

	return PreviewResult{
		Rendered: rendered,
		Missing:  Validate(body, values),
		Stats:    StatsFor(body),
	}
}

type Stats struct {
	Characters int      `json:"characters"`
	Words      int      `json:"words"`
	Variables  []string `json:"variables"`
}

func StatsFor(body string) Stats {
	return Stats{
		Characters: utf8.RuneCountInString(body),
		Words:      len(strings.Fields(body)),
		Variables:  ExtractVariables(body),
	}
}
