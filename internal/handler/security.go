package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/edu-backoffice/internal/domain/auth"
	"github.com/xenking/edu-backoffice/internal/tenant"
)

// HeaderAPIKey carries the operator's key.
const HeaderAPIKey = "api_key"

// admin authenticates the api_key header and requires the admin scope.
func (h *Handler) admin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		p, err := h.authn.Authenticate(ctx, r.Header.Get(HeaderAPIKey))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx = auth.WithPrincipal(ctx, p)
		if err := auth.RequireAdmin(ctx); err != nil {
			writeError(w, r, err)
			return
		}
		ctx = zctx.Base(ctx, zctx.From(ctx).With(zap.String("operator", p.KeyID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type tenantHandlerFunc func(w http.ResponseWriter, r *http.Request, svc *Services)

// tenantRoute resolves {tenant} after authentication.
func (h *Handler) tenantRoute(fn tenantHandlerFunc) http.Handler {
	return h.admin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, svc, err := h.tenants.Lookup(r.PathValue("tenant"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := zctx.Base(r.Context(), zctx.From(r.Context()).With(zap.String("tenant", string(id))))
		fn(w, r.WithContext(ctx), svc)
	}))
}

// tenantOf returns the tenant already resolved for r.
func tenantOf(r *http.Request) tenant.ID {
	id, _ := tenant.Parse(r.PathValue("tenant"))
	return id
}
