package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Shared pool sizing for every service.
const (
	poolMaxConns        = 10
	poolMinConns        = 1
	poolMaxConnLifetime = 30 * time.Minute
	poolMaxConnIdleTime = 5 * time.Minute
)

// Pool wraps pgxpool.Pool so services share sizing and a ready probe.
type Pool struct {
	*pgxpool.Pool
}

// Open parses databaseURL, applies the shared pool limits and verifies
// connectivity with a ping before returning.
func Open(ctx context.Context, databaseURL string) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pc.MaxConns = poolMaxConns
	pc.MinConns = poolMinConns
	pc.MaxConnLifetime = poolMaxConnLifetime
	pc.MaxConnIdleTime = poolMaxConnIdleTime

	inner, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	if err := inner.Ping(ctx); err != nil {
		inner.Close()
		return nil, err
	}
	return &Pool{Pool: inner}, nil
}

// Close is nil-safe so shutdown paths can defer it unconditionally.
func (p *Pool) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}

// ReadyCheck pings the pool; plug it into runtime.NewBaseMux.
func ReadyCheck(pool *Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		if pool == nil || pool.Pool == nil {
			return errors.New("db not configured")
		}
		return pool.Ping(ctx)
	}
}
