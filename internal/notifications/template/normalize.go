package template

import (
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldKey maps a variable name or context key onto its comparison form:
// case-folded, canonically decomposed, combining marks removed, recomposed.
// "Vehículo", "VEHICULO" and "vehiculo" all fold to "vehiculo".
func FoldKey(s string) string {
	// transform.Chain keeps per-call state, so it is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, cases.Fold().String(s))
	if err != nil {
		return cases.Fold().String(s)
	}
	return stripped
}

// foldContext indexes a context map by folded key. When two caller keys fold
// to the same form the lexically smaller original key wins, so the result
// does not depend on map iteration order.
func foldContext(ctx map[string]string) map[string]string {
	folded := make(map[string]string, len(ctx))
	owner := make(map[string]string, len(ctx))
	for k, v := range ctx {
		fk := FoldKey(k)
		if prev, ok := owner[fk]; ok && prev < k {
			continue
		}
		owner[fk] = k
		folded[fk] = v
	}
	return folded
}
