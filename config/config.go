// Package config loads the settings of an apicache deployment: which platform
// storage to use, where the API lives and how the cache and telemetry behave.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the effective configuration after defaults, files and env.
type Config struct {
	Platform string  `koanf:"platform"`
	API      API     `koanf:"api"`
	Storage  Storage `koanf:"storage"`
	Cache    Cache   `koanf:"cache"`
	Token    Token   `koanf:"token"`
	Logging  Logging `koanf:"logging"`
	Metrics  Metrics `koanf:"metrics"`
	Tracing  Tracing `koanf:"tracing"`
}

type API struct {
	BaseURL string        `koanf:"baseURL"`
	Timeout time.Duration `koanf:"timeout"`
}

// Storage selects the session store. Web deployments use redis or valkey
// when an address is set and fall back to an in-process bigcache; mobile
// deployments use a sqlite file.
type Storage struct {
	Backend   string `koanf:"backend"`
	Address   string `koanf:"address"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
}

type Cache struct {
	GCGrace    time.Duration `koanf:"gcGrace"`
	GCInterval time.Duration `koanf:"gcInterval"`
	// Persist enables the result write-through tier on the storage backend.
	Persist    bool          `koanf:"persist"`
	PersistTTL time.Duration `koanf:"persistTTL"`
	// GenStore is "local" or "redis"; redis shares tag generations across
	// replicas through storage.address.
	GenStore string `koanf:"genStore"`
}

type Token struct {
	JWTExpiry bool `koanf:"jwtExpiry"`
}

type Logging struct {
	Backend string `koanf:"backend"`
	Level   string `koanf:"level"`
	Format  string `koanf:"format"`
}

type Metrics struct {
	Address string `koanf:"address"`
}

type Tracing struct {
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"serviceName"`
}

const (
	PlatformWeb    = "web"
	PlatformMobile = "mobile"

	BackendRedis    = "redis"
	BackendValkey   = "valkey"
	BackendBigcache = "bigcache"
	BackendSQLite   = "sqlite"

	GenStoreLocal = "local"
	GenStoreRedis = "redis"
)

// DefaultConfig returns the baseline every loader starts from.
func DefaultConfig() Config {
	return Config{
		Platform: PlatformWeb,
		API: API{
			Timeout: 30 * time.Second,
		},
		Storage: Storage{
			Path:      "apicache.db",
			Namespace: "default",
		},
		Cache: Cache{
			GCGrace:    60 * time.Second,
			GCInterval: 10 * time.Second,
			PersistTTL: 24 * time.Hour,
			GenStore:   GenStoreLocal,
		},
		Logging: Logging{
			Backend: "zap",
			Level:   "info",
			Format:  "json",
		},
		Tracing: Tracing{
			ServiceName: "chargectl",
		},
	}
}

// applyPlatformDefaults picks the storage backend when none was configured.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.Backend != "" {
		return
	}
	switch {
	case c.Platform == PlatformMobile:
		c.Storage.Backend = BackendSQLite
	case c.Storage.Address != "":
		c.Storage.Backend = BackendRedis
	default:
		c.Storage.Backend = BackendBigcache
	}
}

// Validate reports the first setting that cannot be honored.
func (c Config) Validate() error {
	switch c.Platform {
	case PlatformWeb:
		switch c.Storage.Backend {
		case BackendRedis, BackendValkey:
			if c.Storage.Address == "" {
				return fmt.Errorf("config: storage.address is required for backend %q", c.Storage.Backend)
			}
		case BackendBigcache:
		default:
			return fmt.Errorf("config: storage.backend %q is not available on web", c.Storage.Backend)
		}
	case PlatformMobile:
		if c.Storage.Backend != BackendSQLite {
			return fmt.Errorf("config: storage.backend %q is not available on mobile", c.Storage.Backend)
		}
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("config: storage.path is required for sqlite")
		}
	default:
		return fmt.Errorf("config: unknown platform %q", c.Platform)
	}

	if c.API.BaseURL == "" {
		return fmt.Errorf("config: api.baseURL is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: api.baseURL %q is not an absolute URL", c.API.BaseURL)
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("config: api.timeout must not be negative")
	}
	if c.Cache.GCGrace < 0 || c.Cache.GCInterval < 0 || c.Cache.PersistTTL < 0 {
		return fmt.Errorf("config: cache durations must not be negative")
	}

	switch c.Cache.GenStore {
	case GenStoreLocal, "":
	case GenStoreRedis:
		if c.Storage.Address == "" {
			return fmt.Errorf("config: cache.genStore redis needs storage.address")
		}
	default:
		return fmt.Errorf("config: unknown cache.genStore %q", c.Cache.GenStore)
	}
	return nil
}
