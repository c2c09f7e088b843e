package main

import (
	"context"
	"fmt"

	"github.com/voltadmin/apicache"
	"github.com/voltadmin/apicache/config"
	"github.com/voltadmin/apicache/internal/evapi"
	"github.com/voltadmin/apicache/platform"
	"github.com/voltadmin/apicache/platform/mobile"
	"github.com/voltadmin/apicache/platform/web"
)

// openSession maps the loaded configuration onto a web or mobile session.
func openSession(ctx context.Context, cfg config.Config, log apicache.Logger, hooks apicache.Hooks, ended platform.SessionEndedFunc) (*platform.Session, error) {
	pc := platform.Config{
		BaseURL:        cfg.API.BaseURL,
		Namespace:      cfg.Storage.Namespace,
		Operations:     evapi.Operations(),
		PersistTTL:     cfg.Cache.PersistTTL,
		OnSessionEnded: ended,
		JWTExpiry:      cfg.Token.JWTExpiry,
		Timeout:        cfg.API.Timeout,
		GCGrace:        cfg.Cache.GCGrace,
		GCInterval:     cfg.Cache.GCInterval,
		Logger:         log,
		Hooks:          hooks,
	}

	switch cfg.Platform {
	case config.PlatformMobile:
		return mobile.New(ctx, mobile.Config{
			Config:         pc,
			Path:           cfg.Storage.Path,
			PersistResults: cfg.Cache.Persist,
		})
	case config.PlatformWeb:
		return web.New(ctx, web.Config{
			Config:            pc,
			Backend:           cfg.Storage.Backend,
			Address:           cfg.Storage.Address,
			Username:          cfg.Storage.Username,
			Password:          cfg.Storage.Password,
			DB:                cfg.Storage.DB,
			SharedGenerations: cfg.Cache.GenStore == config.GenStoreRedis,
			PersistResults:    cfg.Cache.Persist,
		})
	default:
		return nil, fmt.Errorf("unknown platform %q", cfg.Platform)
	}
}
