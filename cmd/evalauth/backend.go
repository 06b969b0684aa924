package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/evalauth"
	"github.com/MrEthical07/evalauth/internal/config"
	"github.com/MrEthical07/evalauth/refresh"
	"github.com/MrEthical07/evalauth/store/memory"
	"github.com/MrEthical07/evalauth/store/postgres"
	"github.com/MrEthical07/evalauth/store/sqlite"
)

// backend is the storage selected by store.backend. A nil refresh store
// lets the builder pick Redis or memory.
type backend struct {
	identities evalauth.IdentityProvider
	refresh    refresh.Store
	redis      redis.UniversalClient
	sweeper    expiredSweeper
	create     func(context.Context, evalauth.Identity) error
	closers    []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{}
	switch cfg.Store.Backend {
	case config.BackendMemory, config.BackendRedis:
		ids := memory.NewProvider()
		b.identities = ids
		b.create = func(_ context.Context, ident evalauth.Identity) error {
			_, err := ids.Add(ident)
			if errors.Is(err, memory.ErrDuplicateEmail) {
				return nil
			}
			return err
		}
		if cfg.Store.Backend == config.BackendRedis {
			client := redis.NewUniversalClient(&redis.UniversalOptions{
				Addrs:    []string{cfg.Redis.Addr},
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err := client.Ping(ctx).Err(); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("redis ping: %w", err)
			}
			b.redis = client
			b.closers = append(b.closers, func() { _ = client.Close() })
		}

	case config.BackendPostgres:
		url := cfg.Postgres.URL()
		if err := postgres.Migrate(url, logger); err != nil {
			return nil, err
		}
		pool, err := postgres.Open(ctx, url, cfg.Postgres.ConnectAttempts, logger)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		ids := postgres.NewIdentityStore(pool)
		tokens := postgres.NewRefreshStore(pool)
		b.identities, b.refresh, b.sweeper = ids, tokens, tokens
		b.create = func(ctx context.Context, ident evalauth.Identity) error {
			_, err := ids.Create(ctx, ident)
			if errors.Is(err, postgres.ErrDuplicateEmail) {
				return nil
			}
			return err
		}

	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = db.Close() })
		ids := db.Identities()
		tokens := db.RefreshTokens()
		b.identities, b.refresh, b.sweeper = ids, tokens, tokens
		b.create = func(ctx context.Context, ident evalauth.Identity) error {
			_, err := ids.Create(ctx, ident)
			if errors.Is(err, sqlite.ErrDuplicateEmail) {
				return nil
			}
			return err
		}

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return b, nil
}

// seed creates the configured identities, skipping emails that already
// exist.
func (b *backend) seed(ctx context.Context, engine *evalauth.Engine, seeds []config.SeedIdentity) error {
	for _, s := range seeds {
		hash, err := engine.HashPassword(s.Password)
		if err != nil {
			return fmt.Errorf("hash seed password for %s: %w", s.Email, err)
		}
		ident := evalauth.Identity{Email: s.Email, PasswordHash: hash, Active: s.Active, Roles: s.Roles}
		if err := b.create(ctx, ident); err != nil {
			return fmt.Errorf("create %s: %w", s.Email, err)
		}
	}
	return nil
}
