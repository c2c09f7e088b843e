package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader resolves configuration with env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader returns a loader reading the given files in order and then the
// environment variables starting with envPrefix. SECTION__KEY nests, so
// CHARGECTL_API__BASEURL sets api.baseURL.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{envPrefix: envPrefix, files: files}
}

// canonical maps lower-cased env paths back onto the camelCase keys the
// struct tags and defaults use.
var canonical = map[string]string{
	"api.baseurl":         "api.baseURL",
	"cache.gcgrace":       "cache.gcGrace",
	"cache.gcinterval":    "cache.gcInterval",
	"cache.persistttl":    "cache.persistTTL",
	"cache.genstore":      "cache.genStore",
	"token.jwtexpiry":     "token.jwtExpiry",
	"tracing.servicename": "tracing.serviceName",
}

func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Config{}, err
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ToLower(strings.ReplaceAll(key, "__", "."))
			if mapped, ok := canonical[key]; ok {
				return mapped
			}
			return strings.ReplaceAll(key, "_", "")
		}
		if err := k.Load(env.Provider(l.envPrefix+"_", ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension %q", ext)
	}
}

// structToMap flattens the defaults for the confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"platform": cfg.Platform,
		"api": map[string]any{
			"baseURL": cfg.API.BaseURL,
			"timeout": cfg.API.Timeout,
		},
		"storage": map[string]any{
			"backend":   cfg.Storage.Backend,
			"address":   cfg.Storage.Address,
			"username":  cfg.Storage.Username,
			"password":  cfg.Storage.Password,
			"db":        cfg.Storage.DB,
			"path":      cfg.Storage.Path,
			"namespace": cfg.Storage.Namespace,
		},
		"cache": map[string]any{
			"gcGrace":    cfg.Cache.GCGrace,
			"gcInterval": cfg.Cache.GCInterval,
			"persist":    cfg.Cache.Persist,
			"persistTTL": cfg.Cache.PersistTTL,
			"genStore":   cfg.Cache.GenStore,
		},
		"token": map[string]any{
			"jwtExpiry": cfg.Token.JWTExpiry,
		},
		"logging": map[string]any{
			"backend": cfg.Logging.Backend,
			"level":   cfg.Logging.Level,
			"format":  cfg.Logging.Format,
		},
		"metrics": map[string]any{
			"address": cfg.Metrics.Address,
		},
		"tracing": map[string]any{
			"endpoint":    cfg.Tracing.Endpoint,
			"serviceName": cfg.Tracing.ServiceName,
		},
	}
}
