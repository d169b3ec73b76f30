// Package handler exposes the back-office operations over HTTP.
package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/xenking/edu-backoffice/internal/domain/auth"
	"github.com/xenking/edu-backoffice/internal/domain/reconcile"
	"github.com/xenking/edu-backoffice/internal/domain/refund"
	"github.com/xenking/edu-backoffice/internal/domain/report"
	"github.com/xenking/edu-backoffice/internal/domain/stats"
	"github.com/xenking/edu-backoffice/internal/tenant"
)

// Reconciler runs one page of status reconciliation.
type Reconciler interface {
	RunBatch(ctx context.Context, req reconcile.BatchRequest) (*reconcile.BatchResult, error)
}

// GatewaySyncer refreshes one page of the gateway mirror.
type GatewaySyncer interface {
	SyncBatch(ctx context.Context, req reconcile.SyncRequest) (*reconcile.SyncResult, error)
}

// Refunder executes gateway and manual refunds.
type Refunder interface {
	Refund(ctx context.Context, req refund.Request) (*refund.Result, error)
	ManualRefund(ctx context.Context, req refund.ManualRequest) (*refund.Result, error)
}

// SalesReporter computes per-course revenue.
type SalesReporter interface {
	CourseSales(ctx context.Context, courseID int64) (*stats.CourseSales, error)
}

// Exporter writes the payment CSV.
type Exporter interface {
	Export(ctx context.Context, w io.Writer, f report.Filter) (int, error)
}

// Authenticator resolves the api_key header.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.Principal, error)
}

// Services are one tenant's operations.
type Services struct {
	Reconciler Reconciler
	Syncer     GatewaySyncer
	Refunds    Refunder
	Sales      SalesReporter
	Reports    Exporter
	// DryRunDefault applies when a batch request omits dryRun.
	DryRunDefault bool
}

// Handler routes requests to the tenant named in the path.
type Handler struct {
	tenants *tenant.Registry[*Services]
	authn   Authenticator
	now     func() time.Time
}

// New creates a Handler.
func New(tenants *tenant.Registry[*Services], authn Authenticator) *Handler {
	return &Handler{tenants: tenants, authn: authn, now: time.Now}
}

// Register mounts the API on mux. Every route requires an admin key.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/allocate", h.admin(http.HandlerFunc(h.allocate)))

	mux.Handle("POST /api/{tenant}/refunds", h.tenantRoute(h.refund))
	mux.Handle("POST /api/{tenant}/refunds/manual", h.tenantRoute(h.manualRefund))
	mux.Handle("POST /api/{tenant}/reconcile", h.tenantRoute(h.reconcile))
	mux.Handle("POST /api/{tenant}/gateway-sync", h.tenantRoute(h.gatewaySync))
	mux.Handle("GET /api/{tenant}/courses/{courseID}/sales", h.tenantRoute(h.courseSales))
	mux.Handle("GET /api/{tenant}/payments/export", h.tenantRoute(h.export))
}
