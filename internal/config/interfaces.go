package config

import "context"

// SecretProvider resolves secret references (SSM parameter paths or plain
// environment names) to their plaintext values.
type SecretProvider interface {
	// GetParametersBatch returns key -> value for every key it could resolve.
	// Keys that do not exist are omitted rather than reported as an error.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
