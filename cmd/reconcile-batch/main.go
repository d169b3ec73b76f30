// Command reconcile-batch walks every gateway mirror record of one or all
// tenants and aligns local payment and order statuses with it. Without
// --apply it only reports what would change.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/edu-backoffice/internal/app"
	"github.com/xenking/edu-backoffice/internal/domain/reconcile"
	"github.com/xenking/edu-backoffice/internal/storage/rediscache"
	"github.com/xenking/edu-backoffice/internal/tenant"
)

type options struct {
	apply    bool
	limit    int
	courseID int64
	tenant   string
	outDir   string
}

func main() {
	var opts options
	flag.BoolVar(&opts.apply, "apply", false, "write changes (default is a dry run)")
	flag.IntVar(&opts.limit, "limit", reconcile.DefaultLimit, "records per page")
	flag.Int64Var(&opts.courseID, "course-id", 0, "only records of this course")
	flag.StringVar(&opts.tenant, "tenant", "", "only this tenant (default: all configured)")
	flag.StringVar(&opts.outDir, "out", "", "directory for per-tenant gzipped JSON-lines page logs")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, opts); err != nil {
		lg.Error("Reconcile batch failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := app.LoadTenantsConfig()
	if err != nil {
		return err
	}
	tenants, err := app.OpenTenants(ctx, cfg.Tenants)
	if err != nil {
		return err
	}
	defer app.CloseTenants(tenants)

	ids := tenants.IDs()
	if opts.tenant != "" {
		id, _, err := tenants.Lookup(opts.tenant)
		if err != nil {
			return err
		}
		ids = []tenant.ID{id}
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" && opts.apply {
		if rdb, err = rediscache.NewClient(ctx, cfg.RedisURL); err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()
	}

	req := reconcile.BatchRequest{
		Limit:  reconcile.ClampLimit(opts.limit),
		DryRun: !opts.apply,
	}
	if opts.courseID > 0 {
		req.CourseID = &opts.courseID
	}

	// Tenants run in parallel; pages within a tenant run in order. The first
	// failing tenant cancels the others at their next page boundary.
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		t, err := tenants.Get(id)
		if err != nil {
			return err
		}
		g.Go(func() error {
			var svcOpts []reconcile.Option
			if rdb != nil {
				svcOpts = append(svcOpts, reconcile.WithCache(rediscache.New(rdb, string(t.ID), cfg.CacheTTL)))
			}
			return runTenant(gctx, t, req, opts.outDir, svcOpts...)
		})
	}
	return g.Wait()
}

func runTenant(ctx context.Context, t *app.Tenant, req reconcile.BatchRequest, outDir string, svcOpts ...reconcile.Option) error {
	lg := zctx.From(ctx).With(zap.String("tenant", string(t.ID)), zap.Bool("dry_run", req.DryRun))
	ctx = zctx.Base(ctx, lg)

	svc, err := reconcile.NewService(t.Store, noop.NewMeterProvider(), svcOpts...)
	if err != nil {
		return err
	}

	var pages *pageLog
	if outDir != "" {
		if pages, err = openPageLog(outDir, t.ID); err != nil {
			return err
		}
		defer func() {
			if err := pages.Close(); err != nil {
				lg.Warn("Close page log", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	sum, err := svc.RunAll(ctx, req, func(res *reconcile.BatchResult) error {
		lg.Info("Page done",
			zap.Int("processed", res.Processed),
			zap.Int("updated", res.Counts.Updated),
			zap.Int("skipped", res.Counts.Skipped),
			zap.Int("errors", res.Counts.Errors),
		)
		if pages != nil {
			return pages.Write(res)
		}
		return nil
	})
	lg.Info("Reconcile finished",
		zap.Int("pages", sum.Pages),
		zap.Int("processed", sum.Processed),
		zap.Int("updated", sum.Updated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("errors", sum.Errors),
		zap.Duration("took", time.Since(start)),
	)
	if err != nil {
		return errors.Wrapf(err, "tenant %s", t.ID)
	}
	return nil
}

// pageLog writes one JSON line per page into a gzip file.
type pageLog struct {
	f   *os.File
	gz  *pgzip.Writer
	enc *json.Encoder
}

func openPageLog(dir string, id tenant.ID) (*pageLog, error) {
	name := filepath.Join(dir, fmt.Sprintf("reconcile-%s-%s.jsonl.gz", id, time.Now().Format("20060102-150405")))
	f, err := os.Create(name)
	if err != nil {
		return nil, errors.Wrap(err, "create page log")
	}
	gz := pgzip.NewWriter(f)
	return &pageLog{f: f, gz: gz, enc: json.NewEncoder(gz)}, nil
}

func (p *pageLog) Write(res *reconcile.BatchResult) error {
	return errors.Wrap(p.enc.Encode(res), "write page log")
}

func (p *pageLog) Close() error {
	if err := p.gz.Close(); err != nil {
		_ = p.f.Close()
		return err
	}
	return p.f.Close()
}
