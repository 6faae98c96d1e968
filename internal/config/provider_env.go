package config

import (
	"context"
	"os"
)

// EnvVarProvider implements SecretProvider by treating each key as the name
// of an environment variable. It lets a non-local deployment run without
// SSM by pointing X_SSM_PARAM at another variable.
type EnvVarProvider struct{}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch looks every key up with os.LookupEnv; missing keys are
// omitted.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}
