package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/edu-backoffice/internal/domain/reconcile"
	"github.com/xenking/edu-backoffice/internal/domain/refund"
	"github.com/xenking/edu-backoffice/internal/domain/report"
	"github.com/xenking/edu-backoffice/internal/domain/stats"
	"github.com/xenking/edu-backoffice/internal/gateway"
	"github.com/xenking/edu-backoffice/internal/handler"
	"github.com/xenking/edu-backoffice/internal/storage/postgres"
	"github.com/xenking/edu-backoffice/internal/storage/rediscache"
	"github.com/xenking/edu-backoffice/internal/tenant"
)

// Tenant is one brand's open database.
type Tenant struct {
	ID     tenant.ID
	Config TenantConfig
	Pool   *pgxpool.Pool
	Store  *postgres.Store
}

// OpenTenants connects to and migrates every configured tenant database.
// On error the pools opened so far are closed.
func OpenTenants(ctx context.Context, cfg TenantsConfig) (*tenant.Registry[*Tenant], error) {
	reg := tenant.NewRegistry[*Tenant]()
	err := cfg.Each(func(id tenant.ID, tc TenantConfig) error {
		zctx.From(ctx).Info("Opening tenant database", zap.String("tenant", string(id)))
		pool, err := postgres.NewPool(ctx, tc.DatabaseURL)
		if err != nil {
			return errors.Wrapf(err, "tenant %s", id)
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return errors.Wrapf(err, "tenant %s", id)
		}
		return reg.Add(id, &Tenant{ID: id, Config: tc, Pool: pool, Store: postgres.NewStore(pool)})
	})
	if err != nil {
		CloseTenants(reg)
		return nil, err
	}
	return reg, nil
}

// CloseTenants closes every pool in reg.
func CloseTenants(reg *tenant.Registry[*Tenant]) {
	for _, id := range reg.IDs() {
		if t, err := reg.Get(id); err == nil {
			t.Pool.Close()
		}
	}
}

// newServices builds the tenant's domain services. rdb may be nil.
func newServices(t *Tenant, gw *gateway.Client, rdb *redis.Client, ttl time.Duration, mp metric.MeterProvider) (*handler.Services, error) {
	merchant := gw.WithSecret(t.Config.GatewaySecretKey)

	var (
		reconcileOpts []reconcile.Option
		refundOpts    []refund.Option
		salesCache    stats.Cache
	)
	if rdb != nil {
		cache := rediscache.New(rdb, string(t.ID), ttl)
		reconcileOpts = append(reconcileOpts, reconcile.WithCache(cache))
		refundOpts = append(refundOpts, refund.WithCache(cache))
		salesCache = cache
	}

	rec, err := reconcile.NewService(t.Store, mp, reconcileOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "reconcile service")
	}
	syncer, err := reconcile.NewSyncer(t.Store, merchant, t.Config.FreeOrderPrefix, mp)
	if err != nil {
		return nil, errors.Wrap(err, "gateway syncer")
	}
	refunds, err := refund.NewExecutor(t.Store, merchant, mp, refundOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "refund executor")
	}

	return &handler.Services{
		Reconciler:    rec,
		Syncer:        syncer,
		Refunds:       refunds,
		Sales:         stats.NewService(t.Store, t.Config.AmountIsNetOfCancel, salesCache),
		Reports:       report.NewService(t.Store, t.Config.AmountIsNetOfCancel),
		DryRunDefault: t.Config.ReconcileDryRunDefault,
	}, nil
}
