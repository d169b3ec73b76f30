package reconcile

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
)

// Page size bounds for batch runs.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Skip reasons.
const (
	ReasonNoPaymentKey    = "No payment key"
	ReasonPaymentNotFound = "Payment not found"
	ReasonOrderNotFound   = "Order not found"
	ReasonNoChanges       = "No changes"
	ReasonFreeOrder       = "Free order"
)

// ClampLimit maps a requested page size into [1, MaxLimit], treating zero as
// DefaultLimit.
func ClampLimit(n int) int {
	switch {
	case n == 0:
		return DefaultLimit
	case n < 1:
		return 1
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}

// Counts aggregates the outcome of a page.
type Counts struct {
	Processed int `json:"processedCount"`
	Updated   int `json:"updatedCount"`
	Skipped   int `json:"skippedCount"`
	Errors    int `json:"errorCount"`
}

func (c *Counts) add(o Counts) {
	c.Processed += o.Processed
	c.Updated += o.Updated
	c.Skipped += o.Skipped
	c.Errors += o.Errors
}

// StatusSnapshot is the local status pair at one point in time.
type StatusSnapshot struct {
	PaymentStatus payment.Status      `json:"paymentStatus"`
	OrderStatus   payment.OrderStatus `json:"orderStatus"`
}

// Update describes one changed (or, in dry-run, would-change) transaction.
type Update struct {
	RecordID   int64          `json:"recordId"`
	PaymentID  int64          `json:"paymentId"`
	OrderID    int64          `json:"orderId"`
	PaymentKey string         `json:"paymentKey"`
	Before     StatusSnapshot `json:"before"`
	After      StatusSnapshot `json:"after"`
	Fields     []string       `json:"fields"`
	Applied    bool           `json:"applied"`
}

// Skip is a record left alone and why.
type Skip struct {
	RecordID   int64  `json:"recordId"`
	PaymentKey string `json:"paymentKey,omitempty"`
	Reason     string `json:"reason"`
}

// RecordError is a record whose processing failed.
type RecordError struct {
	RecordID   int64  `json:"recordId"`
	PaymentKey string `json:"paymentKey,omitempty"`
	Error      string `json:"error"`
}

// BatchRequest selects a page of gateway records.
type BatchRequest struct {
	Limit int
	// Cursor is the last record id of the previous page.
	Cursor   *int64
	CourseID *int64
	DryRun   bool
}

// BatchResult is the outcome of one page.
type BatchResult struct {
	Counts
	DryRun     bool          `json:"dryRun"`
	Updated    []Update      `json:"updated"`
	Skipped    []Skip        `json:"skipped"`
	Errors     []RecordError `json:"errors"`
	NextCursor *int64        `json:"nextCursor"`
}

// CacheInvalidator drops cached views of courses.
type CacheInvalidator interface {
	InvalidateCourses(ctx context.Context, courseIDs ...int64) error
}

// Service reconciles one tenant's payments against its gateway mirror.
type Service struct {
	store   payment.Store
	cache   CacheInvalidator
	records metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithCache sets the cache invalidated for the courses of every applied
// update.
func WithCache(c CacheInvalidator) Option {
	return func(s *Service) { s.cache = c }
}

// NewService creates a Service over store.
func NewService(store payment.Store, mp metric.MeterProvider, opts ...Option) (*Service, error) {
	records, err := mp.Meter(meterName).Int64Counter("backoffice.reconcile.records",
		metric.WithDescription("Gateway records processed by reconciliation, by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create counter")
	}
	s := &Service{store: store, records: records}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

const meterName = "github.com/xenking/edu-backoffice/internal/domain/reconcile"

// fetchPage loads up to limit records after cursor and reports the cursor of
// the following page, nil when this page is the last.
func fetchPage(ctx context.Context, r payment.Reader, limit int, cursor, courseID *int64) ([]payment.GatewayRecord, *int64, error) {
	f := payment.RecordFilter{CourseID: courseID, Limit: limit + 1}
	if cursor != nil {
		f.AfterID = *cursor
	}
	page, err := r.ListGatewayRecords(ctx, f)
	if err != nil {
		return nil, nil, errors.Wrap(err, "list gateway records")
	}
	if len(page) <= limit {
		return page, nil, nil
	}
	page = page[:limit]
	next := page[limit-1].ID
	return page, &next, nil
}

// RunBatch reconciles one page. Per-record failures are counted and logged
// without aborting the page; only a failure to list the page is returned.
func (s *Service) RunBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	limit := ClampLimit(req.Limit)
	page, next, err := fetchPage(ctx, s.store, limit, req.Cursor, req.CourseID)
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx)
	res := &BatchResult{
		DryRun:     req.DryRun,
		Updated:    []Update{},
		Skipped:    []Skip{},
		Errors:     []RecordError{},
		NextCursor: next,
	}
	for i := range page {
		rec := &page[i]
		res.Counts.Processed++

		outcome, err := s.reconcileOne(ctx, rec, req.DryRun, res)
		if err != nil {
			lg.Warn("Reconcile record failed",
				zap.Int64("record_id", rec.ID),
				zap.String("payment_key", rec.PaymentKey),
				zap.Error(err),
			)
			res.Counts.Errors++
			res.Errors = append(res.Errors, RecordError{
				RecordID:   rec.ID,
				PaymentKey: rec.PaymentKey,
				Error:      err.Error(),
			})
			outcome = "error"
		}
		s.records.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.Bool("dry_run", req.DryRun),
		))
	}

	lg.Info("Reconcile page done",
		zap.Int("processed", res.Counts.Processed),
		zap.Int("updated", res.Counts.Updated),
		zap.Int("skipped", res.Counts.Skipped),
		zap.Int("errors", res.Counts.Errors),
		zap.Bool("dry_run", req.DryRun),
	)
	return res, nil
}

func (s *Service) reconcileOne(ctx context.Context, rec *payment.GatewayRecord, dryRun bool, res *BatchResult) (string, error) {
	skip := func(reason string) (string, error) {
		res.Counts.Skipped++
		res.Skipped = append(res.Skipped, Skip{RecordID: rec.ID, PaymentKey: rec.PaymentKey, Reason: reason})
		return "skipped", nil
	}

	if rec.PaymentKey == "" {
		return skip(ReasonNoPaymentKey)
	}
	pay, err := s.store.GetPaymentByKey(ctx, rec.PaymentKey)
	if errors.Is(err, payment.ErrNotFound) {
		return skip(ReasonPaymentNotFound)
	}
	if err != nil {
		return "", errors.Wrap(err, "get payment")
	}
	order, err := s.store.GetOrder(ctx, pay.OrderID)
	if errors.Is(err, payment.ErrNotFound) {
		return skip(ReasonOrderNotFound)
	}
	if err != nil {
		return "", errors.Wrap(err, "get order")
	}

	d := ComputeDesiredState(rec, order, pay)
	if !d.ShouldUpdate {
		return skip(ReasonNoChanges)
	}

	u := Update{
		RecordID:   rec.ID,
		PaymentID:  pay.ID,
		OrderID:    order.ID,
		PaymentKey: rec.PaymentKey,
		Before:     StatusSnapshot{PaymentStatus: pay.Status, OrderStatus: order.Status},
		After:      StatusSnapshot{PaymentStatus: pay.Status, OrderStatus: order.Status},
		Fields:     changedFields(d.PaymentPatch, d.OrderPatch),
	}
	if d.PaymentPatch.Status != nil {
		u.After.PaymentStatus = *d.PaymentPatch.Status
	}
	if d.OrderPatch.Status != nil {
		u.After.OrderStatus = *d.OrderPatch.Status
	}

	if !dryRun {
		if err := s.store.WithTx(ctx, func(w payment.Writer) error {
			if !d.OrderPatch.IsEmpty() {
				if err := w.UpdateOrder(ctx, order.ID, d.OrderPatch); err != nil {
					return errors.Wrap(err, "update order")
				}
			}
			if !d.PaymentPatch.IsEmpty() {
				if err := w.UpdatePayment(ctx, pay.ID, d.PaymentPatch); err != nil {
					return errors.Wrap(err, "update payment")
				}
			}
			return nil
		}); err != nil {
			return "", err
		}
		u.Applied = true
		s.invalidate(ctx, coursesOf(rec, order))
	}

	res.Counts.Updated++
	res.Updated = append(res.Updated, u)
	return "updated", nil
}

// coursesOf lists the courses whose sales figures depend on the payment.
func coursesOf(rec *payment.GatewayRecord, order *payment.Order) []int64 {
	var ids []int64
	if rec.CourseID != nil {
		ids = append(ids, *rec.CourseID)
	}
	for _, it := range order.Items {
		if it.Category == payment.CategoryCourse && !slices.Contains(ids, it.ProductID) {
			ids = append(ids, it.ProductID)
		}
	}
	return ids
}

func (s *Service) invalidate(ctx context.Context, courses []int64) {
	if s.cache == nil || len(courses) == 0 {
		return
	}
	if err := s.cache.InvalidateCourses(ctx, courses...); err != nil {
		zctx.From(ctx).Warn("Course cache invalidation failed",
			zap.Int64s("course_ids", courses),
			zap.Error(err),
		)
	}
}

// Summary totals a multi-page run.
type Summary struct {
	Counts
	Pages int `json:"pages"`
}

// RunAll follows NextCursor from req.Cursor until the last page, calling
// onPage after each one. Cancellation of ctx is honoured between pages, never
// in the middle of one; the summary covers the pages completed so far.
func (s *Service) RunAll(ctx context.Context, req BatchRequest, onPage func(*BatchResult) error) (Summary, error) {
	var sum Summary
	for {
		if err := ctx.Err(); err != nil {
			return sum, errors.Wrap(err, "aborted")
		}
		res, err := s.RunBatch(context.WithoutCancel(ctx), req)
		if err != nil {
			return sum, err
		}
		sum.Pages++
		sum.Counts.add(res.Counts)
		if onPage != nil {
			if err := onPage(res); err != nil {
				return sum, err
			}
		}
		if res.NextCursor == nil {
			return sum, nil
		}
		req.Cursor = res.NextCursor
	}
}
