package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/claudine-credentials/internal/app"
	"github.com/florianilch/claudine-credentials/internal/tokenstore"
)

// envPrefix marks configuration variables, e.g. CLAUDINE_CACHE__ABSENT_TTL → cache.absent_ttl
const envPrefix = "CLAUDINE_"

// loadConfig merges configuration layers, later layers winning:
// config file → CLAUDINE_* environment → CLI flags. Defaults fill whatever is
// left empty, then the result is validated.
//
// Without an explicit configPath, $XDG_CONFIG_HOME/claudine/config.toml
// (or ~/.config/claudine/config.toml) is used when it exists.
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	path, err := resolveConfigPath(configPath, environFunc)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	envLayer := env.Provider(".", env.Opt{
		Prefix:      envPrefix,
		EnvironFunc: environFunc,
		TransformFunc: func(key, value string) (string, any) {
			return envKeyToPath(key), value
		},
	})
	if err := k.Load(envLayer, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if cmd != nil {
		if err := k.Load(confmap.Provider(flagLayer(cmd), "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	cfg := &app.Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// resolveConfigPath returns the explicit path, the discovered default path, or
// "" when neither applies. An explicit path must exist.
func resolveConfigPath(configPath string, environFunc func() []string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}

	vars := tokenstore.EnvironMap(environFunc())

	base := vars["XDG_CONFIG_HOME"]
	if base == "" {
		home := vars["HOME"]
		if home == "" {
			return "", nil
		}
		base = filepath.Join(home, ".config")
	}

	candidate := filepath.Join(base, "claudine", "config.toml")
	switch _, err := os.Stat(candidate); {
	case err == nil:
		return candidate, nil
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	default:
		return "", fmt.Errorf("checking config file %s: %w", candidate, err)
	}
}

// envKeyToPath maps CLAUDINE_KEYCHAIN__PROMPT to keychain.prompt.
func envKeyToPath(key string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, envPrefix), "__", "."))
}

// flagLayer collects explicitly set flags, including those of parent commands,
// keyed by config path: --keychain--prompt → keychain.prompt, --log-level → log_level.
func flagLayer(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	for _, name := range cmd.FlagNames() {
		// Unset flags carry only their defaults and would shadow file and env values.
		if !cmd.IsSet(name) {
			continue
		}
		value := cmd.Value(name)
		if value == nil {
			continue
		}
		path := strings.ReplaceAll(strings.ReplaceAll(name, "--", "."), "-", "_")
		values[path] = value
	}

	return values
}
