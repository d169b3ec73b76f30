package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
	"github.com/xenking/edu-backoffice/internal/domain/report"
)

func (h *Handler) courseSales(w http.ResponseWriter, r *http.Request, svc *Services) {
	id, err := strconv.ParseInt(r.PathValue("courseID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, payment.Invalid("course id must be a positive integer"))
		return
	}
	res, err := svc.Sales.CourseSales(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, svc *Services) {
	q := r.URL.Query()
	var (
		f   report.Filter
		err error
	)
	if f.CourseID, err = queryInt64(q, "courseId"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.From, err = parseDay(q.Get("from"), false); err != nil {
		writeError(w, r, err)
		return
	}
	if f.To, err = parseDay(q.Get("to"), true); err != nil {
		writeError(w, r, err)
		return
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		writeError(w, r, payment.Invalid("to must not be before from"))
		return
	}

	ew := &exportWriter{
		w:    w,
		name: fmt.Sprintf("payments-%s-%s.csv", tenantOf(r), h.now().In(report.KST).Format("20060102")),
		gzip: queryBool(q, "gzip"),
	}
	n, err := svc.Reports.Export(r.Context(), ew, f)
	if err != nil && !ew.started() {
		writeError(w, r, err)
		return
	}
	if cerr := ew.Close(); cerr != nil {
		zctx.From(r.Context()).Warn("Close gzip stream", zap.Error(cerr))
	}
	if err != nil {
		// Headers are gone; the truncated body is all the client gets.
		zctx.From(r.Context()).Error("Export failed", zap.Int("rows", n), zap.Error(err))
		return
	}
	zctx.From(r.Context()).Info("Exported payments", zap.Int("rows", n))
}

// exportWriter sends the download headers on the first write, so a failure
// before any output still becomes an error response.
type exportWriter struct {
	w    http.ResponseWriter
	name string
	gzip bool

	out io.Writer
	gz  *pgzip.Writer
}

func (e *exportWriter) Write(p []byte) (int, error) {
	if e.out == nil {
		e.start()
	}
	return e.out.Write(p)
}

func (e *exportWriter) start() {
	h := e.w.Header()
	name := e.name
	if e.gzip {
		name += ".gz"
		h.Set("Content-Type", "application/gzip")
		e.gz = pgzip.NewWriter(e.w)
		e.out = e.gz
	} else {
		h.Set("Content-Type", "text/csv; charset=utf-8")
		e.out = e.w
	}
	h.Set("Content-Disposition", `attachment; filename="`+name+`"`)
}

func (e *exportWriter) started() bool { return e.out != nil }

func (e *exportWriter) Close() error {
	if e.gz == nil {
		return nil
	}
	return e.gz.Close()
}
