package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/florianilch/devpilot/internal/app"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"
)

// envPrefix marks environment variables read as config; "__" separates
// sections (DEVPILOT_TOKENS__FILE → tokens.file).
const envPrefix = "DEVPILOT_"

// listKeys are config keys whose environment values are comma-separated.
var listKeys = map[string]bool{
	"projects.extensions":   true,
	"projects.ignored_dirs": true,
}

// loadConfig merges config sources, later ones winning:
// TOML file, then environment, then explicitly set CLI flags. Unset fields
// then receive defaults and the result is validated.
//
// Without configPath, config.toml in the user config directory is used when
// it exists.
func loadConfig(configPath string, cmd *cli.Command, environ func() []string) (*app.Config, error) {
	k := koanf.New(".")

	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(envProvider(environ), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if cmd != nil {
		if err := k.Load(confmap.Provider(setFlags(cmd), "."), nil); err != nil {
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

// resolveConfigPath returns the explicit path, or the default file if present.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", nil
	}
	path := filepath.Join(dir, "devpilot", "config.toml")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("checking default config file: %w", err)
	}
	return path, nil
}

func envProvider(environ func() []string) koanf.Provider {
	return env.Provider(".", env.Opt{
		Prefix:      envPrefix,
		EnvironFunc: environ,
		TransformFunc: func(key, value string) (string, any) {
			name := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, envPrefix), "__", "."))
			if listKeys[name] {
				return name, strings.Split(value, ",")
			}
			return name, value
		},
	})
}

// setFlags maps explicitly set flags, including those of parent commands, to
// config keys: --tokens--file → tokens.file, --log-level → log_level.
// Unset flags are skipped so their defaults do not mask file or env values.
func setFlags(cmd *cli.Command) map[string]any {
	values := make(map[string]any)
	for _, name := range cmd.FlagNames() {
		if !cmd.IsSet(name) {
			continue
		}
		value := cmd.Value(name)
		if value == nil {
			continue
		}
		key := strings.ReplaceAll(strings.ReplaceAll(name, "--", "."), "-", "_")
		values[key] = value
	}
	return values
}
