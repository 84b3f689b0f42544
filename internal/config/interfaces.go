package config

import "context"

// SecretProvider resolves secret parameter paths to plaintext values.
type SecretProvider interface {
	// GetParametersBatch returns a map of path -> value for the given paths.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
