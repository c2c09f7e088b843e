// Package mobile builds a platform session on a local sqlite file, so the
// credential and, optionally, cached results survive app restarts.
package mobile

import (
	"context"
	"fmt"

	"github.com/voltadmin/apicache/platform"
	"github.com/voltadmin/apicache/provider/sqlite"
)

type Config struct {
	platform.Config

	// Path is the database file; ":memory:" keeps it in process.
	Path string

	// PersistResults writes fulfilled results through to the same database,
	// so they can be shown while the device is offline.
	PersistResults bool
}

func New(ctx context.Context, cfg Config) (*platform.Session, error) {
	db, err := sqlite.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("mobile: %w", err)
	}
	// rows that expired while the app was closed
	if _, err := db.Sweep(ctx); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("mobile: sweep: %w", err)
	}

	pc := cfg.Config
	pc.Storage = db
	if cfg.PersistResults {
		pc.Persist = db
	}
	pc.Closers = append([]func(context.Context) error{db.Close}, pc.Closers...)

	s, err := platform.New(pc)
	if err != nil {
		_ = db.Close(ctx)
		return nil, err
	}
	return s, nil
}
