// Package valkey adapts valkey-go to provider.Provider for deployments that run
// Valkey instead of Redis for the dashboards' session store.
package valkey

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	vk "github.com/valkey-io/valkey-go"

	pr "github.com/voltadmin/apicache/provider"
)

const scanCount = 256

type Config struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      *tls.Config
}

type Provider struct {
	client vk.Client
}

var (
	_ pr.Provider      = (*Provider)(nil)
	_ pr.PrefixDeleter = (*Provider)(nil)
)

// New dials the server and pings it once.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Address == "" {
		return nil, errors.New("valkey provider: address required")
	}
	client, err := vk.NewClient(vk.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		TLSConfig:         cfg.TLS,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("valkey provider: client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Do(pingCtx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey provider: ping: %w", err)
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp := p.client.Do(ctx, p.client.B().Get().Key(key).Build())
	b, err := resp.AsBytes()
	if errors.Is(err, vk.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	set := p.client.B().Set().Key(key).Value(vk.BinaryString(value))
	var err error
	if ttl > 0 {
		err = p.client.Do(ctx, set.Px(ttl).Build()).Error()
	} else {
		err = p.client.Do(ctx, set.Build()).Error()
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	return p.client.Do(ctx, p.client.B().Del().Key(key).Build()).Error()
}

func (p *Provider) DelPrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	match := pr.GlobEscape(prefix) + "*"
	for {
		cmd := p.client.B().Scan().Cursor(cursor).Match(match).Count(scanCount).Build()
		entry, err := p.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return err
		}
		if len(entry.Elements) > 0 {
			if err := p.client.Do(ctx, p.client.B().Del().Key(entry.Elements...).Build()).Error(); err != nil {
				return err
			}
		}
		if entry.Cursor == 0 {
			return nil
		}
		cursor = entry.Cursor
	}
}

func (p *Provider) Close(context.Context) error {
	p.client.Close()
	return nil
}
