package handler

import (
	"net/http"

	"github.com/xenking/edu-backoffice/internal/domain/reconcile"
)

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request, svc *Services) {
	q := r.URL.Query()
	limit, err := queryLimit(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cursor, err := queryInt64(q, "cursor")
	if err != nil {
		writeError(w, r, err)
		return
	}
	courseID, err := queryInt64(q, "courseId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := svc.Reconciler.RunBatch(r.Context(), reconcile.BatchRequest{
		Limit:    limit,
		Cursor:   cursor,
		CourseID: courseID,
		DryRun:   queryDryRun(q, svc.DryRunDefault),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) gatewaySync(w http.ResponseWriter, r *http.Request, svc *Services) {
	q := r.URL.Query()
	limit, err := queryLimit(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cursor, err := queryInt64(q, "cursor")
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := svc.Syncer.SyncBatch(r.Context(), reconcile.SyncRequest{
		Limit:  limit,
		Cursor: cursor,
		DryRun: queryDryRun(q, svc.DryRunDefault),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
