// Package config loads process configuration for inkseal binaries from
// INKSEAL_-prefixed environment variables into tagged structs.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target's env-tagged fields from the process environment,
// falling back to envDefault tags. The error names the variable that
// failed to parse.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("load environment configuration: %w", err)
	}
	return nil
}
