package tokenstore

import (
	"fmt"
	"strings"
)

// EnvStore reads a token override from a caller-supplied environment.
// The environment is passed per lookup so callers and tests never touch the process env.
type EnvStore struct {
	envKey string
}

// NewEnvStore creates an EnvStore for the given environment variable name.
func NewEnvStore(envKey string) (*EnvStore, error) {
	if envKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}

	return &EnvStore{
		envKey: envKey,
	}, nil
}

// Key returns the environment variable name.
func (e *EnvStore) Key() string {
	return e.envKey
}

// Lookup returns the trimmed token from env. Unset and blank values report false.
func (e *EnvStore) Lookup(env map[string]string) (string, bool) {
	token := strings.TrimSpace(env[e.envKey])
	if token == "" {
		return "", false
	}
	return token, true
}

// EnvironMap converts os.Environ-style "KEY=value" pairs into a map.
func EnvironMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
