// Package refund cancels payments through the gateway and records the result
// locally in a single transaction.
package refund

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/edu-backoffice/internal/domain/auth"
	"github.com/xenking/edu-backoffice/internal/domain/payment"
	"github.com/xenking/edu-backoffice/internal/gateway"
)

// DefaultReason is used by manual refunds when no reason is given.
const DefaultReason = "단순 변심"

// Canceler is the gateway's cancel API.
type Canceler interface {
	CancelPayment(ctx context.Context, paymentKey string, req gateway.CancelRequest) (*gateway.Payment, error)
}

// CacheInvalidator drops cached views of courses.
type CacheInvalidator interface {
	InvalidateCourses(ctx context.Context, courseIDs ...int64) error
}

// Request is a gateway refund of one mirror record.
type Request struct {
	RecordID int64
	Reason   string
	// Amount is the amount to cancel; nil cancels the remaining balance.
	Amount *int64
	// RefundAccount is required for deposited virtual-account payments.
	RefundAccount *gateway.BankAccount
	// DeleteEnrollment revokes the buyer's access to the course and its
	// parent course.
	DeleteEnrollment bool
}

// ManualRequest is a refund recorded without calling the gateway.
type ManualRequest struct {
	PaymentID        int64
	Reason           string
	Amount           *int64
	DeleteEnrollment bool
}

// Result is a completed refund.
type Result struct {
	PaymentID          int64
	OrderID            int64
	CanceledAmount     int64
	RefundableAmount   int64
	PaymentStatus      payment.Status
	OrderStatus        payment.OrderStatus
	EnrollmentsDeleted int64
	Message            string
}

// Executor performs refunds for one tenant.
type Executor struct {
	store   payment.Store
	gw      Canceler
	cache   CacheInvalidator
	now     func() time.Time
	refunds metric.Int64Counter
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithCache sets the cache invalidated after each refund.
func WithCache(c CacheInvalidator) Option {
	return func(e *Executor) { e.cache = c }
}

// NewExecutor creates an Executor.
func NewExecutor(store payment.Store, gw Canceler, mp metric.MeterProvider, opts ...Option) (*Executor, error) {
	refunds, err := mp.Meter("github.com/xenking/edu-backoffice/internal/domain/refund").Int64Counter(
		"backoffice.refunds",
		metric.WithDescription("Refund attempts by kind and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create counter")
	}
	e := &Executor{
		store:   store,
		gw:      gw,
		now:     time.Now,
		refunds: refunds,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Refund cancels the payment behind a mirror record through the gateway and
// applies the outcome to the payment, order and mirror record atomically.
func (e *Executor) Refund(ctx context.Context, req Request) (res *Result, err error) {
	defer func() { e.count(ctx, "gateway", err) }()

	if err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	rec, err := e.store.GetGatewayRecord(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}
	if rec.FinalPrice <= 0 {
		return nil, errors.Wrap(payment.ErrInvalidState, "free transactions cannot be refunded")
	}
	if rec.PaymentKey == "" {
		return nil, payment.NotFound("payment for record", rec.ID)
	}
	pay, err := e.store.GetPaymentByKey(ctx, rec.PaymentKey)
	if err != nil {
		return nil, err
	}
	order, err := e.store.GetOrder(ctx, pay.OrderID)
	if err != nil {
		return nil, err
	}

	if err := checkRefundable(pay.Status, true); err != nil {
		return nil, err
	}
	approved := rec.FinalPrice
	remaining := max(0, approved-pay.Canceled())
	if remaining == 0 {
		return nil, errors.Wrap(payment.ErrInvalidState, "nothing left to refund")
	}
	if req.Reason == "" {
		return nil, payment.Invalid("cancel reason is required")
	}
	if req.Amount != nil {
		if *req.Amount <= 0 {
			return nil, payment.Invalid("cancel amount must be positive, got %d", *req.Amount)
		}
		if *req.Amount > remaining {
			return nil, payment.Invalid("cancel amount %d exceeds refundable balance %d", *req.Amount, remaining)
		}
	}

	if pay.Status == payment.StatusWaitingForDeposit && req.Amount != nil && *req.Amount < remaining {
		return nil, payment.Invalid("virtual account awaiting deposit can only be refunded in full")
	}

	cancelReq := gateway.CancelRequest{Reason: req.Reason, Amount: req.Amount}
	if pay.Method == payment.MethodVirtualAccount && pay.Status != payment.StatusWaitingForDeposit {
		a := req.RefundAccount
		if a == nil || a.Bank == "" || a.AccountNumber == "" || a.HolderName == "" {
			return nil, payment.Invalid("refund bank, account number and holder name are required for virtual account payments")
		}
		cancelReq.RefundAccount = a
	}

	courses, err := e.coursesOf(ctx, rec, order)
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(
		zap.Int64("record_id", rec.ID),
		zap.Int64("payment_id", pay.ID),
		zap.String("payment_key", rec.PaymentKey),
	)

	gp, err := e.gw.CancelPayment(ctx, rec.PaymentKey, cancelReq)
	if err != nil {
		lg.Warn("Gateway cancel failed", zap.Error(err))
		return nil, err
	}

	refundable := max(0, gp.Refundable())
	canceled := max(0, approved-refundable)
	ps, os := nextStatus(refundable)

	canceledAt := e.now()
	if last := gp.LastCancel(); last != nil && last.CanceledAt != nil {
		canceledAt = *last.CanceledAt
	}
	mirrorStatus := gp.Status
	if mirrorStatus == "" {
		mirrorStatus = string(ps)
	}

	var deleted int64
	err = e.store.WithTx(ctx, func(w payment.Writer) error {
		if err := w.UpdatePayment(ctx, pay.ID, payment.PaymentPatch{
			Status:           &ps,
			CancelAmount:     &canceled,
			RefundableAmount: &refundable,
			CanceledAt:       &canceledAt,
			CancelReason:     &req.Reason,
		}); err != nil {
			return errors.Wrap(err, "update payment")
		}
		if err := w.UpdateOrder(ctx, order.ID, payment.OrderPatch{Status: &os}); err != nil {
			return errors.Wrap(err, "update order")
		}
		if err := w.UpdateGatewayRecord(ctx, rec.ID, payment.GatewayRecordPatch{
			Status:           &mirrorStatus,
			CancelAmount:     &canceled,
			RefundableAmount: &refundable,
			CanceledAt:       &canceledAt,
			CancelReason:     &req.Reason,
		}); err != nil {
			return errors.Wrap(err, "update gateway record")
		}
		if req.DeleteEnrollment {
			n, err := deleteEnrollments(ctx, w, buyerOf(rec, order), courses)
			if err != nil {
				return err
			}
			deleted = n
		}
		return nil
	})
	if err != nil {
		// The gateway already moved the money; the next reconciliation pass
		// repairs the local rows.
		lg.Error("Refund succeeded at gateway but local update failed",
			zap.Int64("canceled_amount", canceled),
			zap.Int64("refundable_amount", refundable),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "apply refund")
	}

	e.invalidate(ctx, courses)
	lg.Info("Refund completed",
		zap.Int64("canceled_amount", canceled),
		zap.Int64("refundable_amount", refundable),
		zap.Int64("enrollments_deleted", deleted),
	)

	return &Result{
		PaymentID:          pay.ID,
		OrderID:            order.ID,
		CanceledAmount:     canceled,
		RefundableAmount:   refundable,
		PaymentStatus:      ps,
		OrderStatus:        os,
		EnrollmentsDeleted: deleted,
		Message:            successMessage(refundable),
	}, nil
}

// ManualRefund records a refund settled outside the gateway, such as a
// direct bank deposit returned by hand. Amount defaults to the remaining
// balance and Reason to DefaultReason.
func (e *Executor) ManualRefund(ctx context.Context, req ManualRequest) (res *Result, err error) {
	defer func() { e.count(ctx, "manual", err) }()

	if err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	pay, err := e.store.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	order, err := e.store.GetOrder(ctx, pay.OrderID)
	if err != nil {
		return nil, err
	}
	if pay.Method.SettledByGateway() && pay.PaymentKey != "" {
		return nil, errors.Wrap(payment.ErrInvalidState, "gateway payments must be refunded through the gateway")
	}
	if err := checkRefundable(pay.Status, false); err != nil {
		return nil, err
	}
	remaining := pay.Remaining()
	if remaining == 0 {
		return nil, errors.Wrap(payment.ErrInvalidState, "nothing left to refund")
	}

	amount := remaining
	if req.Amount != nil {
		amount = *req.Amount
		if amount <= 0 {
			return nil, payment.Invalid("cancel amount must be positive, got %d", amount)
		}
		if amount > remaining {
			return nil, payment.Invalid("cancel amount %d exceeds refundable balance %d", amount, remaining)
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = DefaultReason
	}

	canceled := pay.Canceled() + amount
	refundable := pay.Amount - canceled
	ps, os := nextStatus(refundable)
	canceledAt := e.now()

	courses, err := e.coursesOf(ctx, nil, order)
	if err != nil {
		return nil, err
	}

	var deleted int64
	err = e.store.WithTx(ctx, func(w payment.Writer) error {
		if err := w.UpdatePayment(ctx, pay.ID, payment.PaymentPatch{
			Status:           &ps,
			CancelAmount:     &canceled,
			RefundableAmount: &refundable,
			CanceledAt:       &canceledAt,
			CancelReason:     &reason,
		}); err != nil {
			return errors.Wrap(err, "update payment")
		}
		if err := w.UpdateOrder(ctx, order.ID, payment.OrderPatch{Status: &os}); err != nil {
			return errors.Wrap(err, "update order")
		}
		if req.DeleteEnrollment {
			n, err := deleteEnrollments(ctx, w, order.UserID, courses)
			if err != nil {
				return err
			}
			deleted = n
		}
		return nil
	})
	if err != nil {
		zctx.From(ctx).Error("Manual refund failed", zap.Int64("payment_id", pay.ID), zap.Error(err))
		return nil, errors.Wrap(err, "apply manual refund")
	}
	e.invalidate(ctx, courses)

	return &Result{
		PaymentID:          pay.ID,
		OrderID:            order.ID,
		CanceledAmount:     canceled,
		RefundableAmount:   refundable,
		PaymentStatus:      ps,
		OrderStatus:        os,
		EnrollmentsDeleted: deleted,
		Message:            successMessage(refundable),
	}, nil
}

// checkRefundable rejects payments for which no money was received.
// A virtual account awaiting deposit can be canceled through the gateway
// but never refunded by hand.
func checkRefundable(s payment.Status, awaitingDepositOK bool) error {
	switch s {
	case payment.StatusDone, payment.StatusPartialCanceled:
		return nil
	case payment.StatusWaitingForDeposit:
		if awaitingDepositOK {
			return nil
		}
	case payment.StatusCanceled:
		return errors.Wrap(payment.ErrInvalidState, "payment is already fully refunded")
	}
	return errors.Wrapf(payment.ErrInvalidState, "payment in status %s cannot be refunded", s)
}

func nextStatus(refundable int64) (payment.Status, payment.OrderStatus) {
	if refundable > 0 {
		return payment.StatusPartialCanceled, payment.OrderPartialRefunded
	}
	return payment.StatusCanceled, payment.OrderRefunded
}

func successMessage(refundable int64) string {
	if refundable > 0 {
		return "부분 환불이 완료되었습니다."
	}
	return "환불이 완료되었습니다."
}

func buyerOf(rec *payment.GatewayRecord, order *payment.Order) int64 {
	if order.UserID != 0 {
		return order.UserID
	}
	if rec != nil && rec.UserID != nil {
		return *rec.UserID
	}
	return 0
}

func deleteEnrollments(ctx context.Context, w payment.Writer, userID int64, courses []int64) (int64, error) {
	if userID == 0 || len(courses) == 0 {
		return 0, nil
	}
	n, err := w.DeleteEnrollments(ctx, userID, courses)
	if err != nil {
		return 0, errors.Wrap(err, "delete enrollments")
	}
	return n, nil
}

// coursesOf returns the purchased course ids plus their parent courses, in
// first-seen order.
func (e *Executor) coursesOf(ctx context.Context, rec *payment.GatewayRecord, order *payment.Order) ([]int64, error) {
	var ids []int64
	seen := map[int64]bool{}
	add := func(id int64) {
		if id != 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if rec != nil && rec.CourseID != nil {
		add(*rec.CourseID)
	} else {
		for _, it := range order.Items {
			if it.Category != payment.CategoryCourse {
				continue
			}
			add(it.ProductID)
			if it.ParentCourseID != nil {
				add(*it.ParentCourseID)
			}
		}
	}

	for _, id := range append([]int64(nil), ids...) {
		c, err := e.store.GetCourse(ctx, id)
		if errors.Is(err, payment.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "get course")
		}
		if c.ParentID != nil {
			add(*c.ParentID)
		}
	}
	return ids, nil
}

func (e *Executor) invalidate(ctx context.Context, courses []int64) {
	if e.cache == nil || len(courses) == 0 {
		return
	}
	if err := e.cache.InvalidateCourses(ctx, courses...); err != nil {
		zctx.From(ctx).Warn("Course cache invalidation failed",
			zap.Int64s("course_ids", courses),
			zap.Error(err),
		)
	}
}

func (e *Executor) count(ctx context.Context, kind string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, payment.ErrUnauthorized):
		outcome = "unauthorized"
	case errors.Is(err, payment.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, payment.ErrInvalidState), errors.Is(err, payment.ErrValidation):
		outcome = "rejected"
	case errors.Is(err, payment.ErrGateway):
		outcome = "gateway_error"
	default:
		outcome = "error"
	}
	e.refunds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}
