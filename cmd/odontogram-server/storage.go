package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/odontogram/internal/config"
	"github.com/ehr/odontogram/internal/domain/dentalchart"
	"github.com/ehr/odontogram/internal/platform/db"
)

// storage is the chart store selected by STORAGE_DRIVER. pool is nil for
// SQLite.
type storage struct {
	repo   dentalchart.ChartRepository
	pool   *pgxpool.Pool
	pinger db.Pinger
	close  func()
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.StorageDriver {
	case config.StorageSQLite:
		store, err := dentalchart.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &storage{repo: store, pinger: store, close: func() { store.Close() }}, nil
	case config.StoragePostgres:
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &storage{repo: dentalchart.NewChartRepoPG(pool), pool: pool, pinger: pool, close: pool.Close}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

// tenantContext scopes ctx to tenantID the way the tenant middleware does
// for HTTP requests.
func tenantContext(ctx context.Context, st *storage, tenantID string) (context.Context, func(), error) {
	if !db.ValidTenantID(tenantID) {
		return ctx, func() {}, fmt.Errorf("invalid tenant identifier %q", tenantID)
	}
	if st.pool == nil {
		return db.WithTenant(ctx, tenantID), func() {}, nil
	}
	return db.AcquireTenantConn(ctx, st.pool, tenantID)
}
