// pkg/seed/default.go
package seed

import (
	_ "embed"
)

//go:embed default.json
var defaultSeed []byte

// Default returns the built-in catalog: the five workshop phases, the service
// types with their subtypes and a baseline set of configs and templates.
func Default() *Seed {
	s, err := Parse(defaultSeed)
	if err != nil {
		panic("seed: embedded default.json is invalid: " + err.Error())
	}
	return s
}

// LoadOrDefault reads path, or returns Default when path is empty.
func LoadOrDefault(path string) (*Seed, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}
