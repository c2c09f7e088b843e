package apicache

import "time"

const (
	defaultNamespace    = "default"
	defaultGCInterval   = 10 * time.Second
	defaultGCGrace      = 60 * time.Second
	defaultHTTPTimeout  = 30 * time.Second
	defaultPersistTTL   = 24 * time.Hour
	defaultGenSweep     = time.Hour
	defaultGenRetention = 30 * 24 * time.Hour
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
