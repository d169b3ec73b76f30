// Package stats reports per-course revenue by attributing each payment's
// paid and refunded totals to the order lines it covered.
package stats

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/edu-backoffice/internal/domain/allocation"
	"github.com/xenking/edu-backoffice/internal/domain/payment"
)

// PaidPayment is a settled payment with the lines of its order.
type PaidPayment struct {
	Payment payment.Payment
	Items   []payment.OrderItem
}

// Source lists settled payments whose orders include a course.
type Source interface {
	ListCoursePayments(ctx context.Context, courseID int64) ([]PaidPayment, error)
}

// CourseSales is a course's share of revenue.
type CourseSales struct {
	CourseID int64 `json:"courseId"`
	Payments int   `json:"payments"`
	Paid     int64 `json:"paid"`
	Refunded int64 `json:"refunded"`
	Net      int64 `json:"net"`
}

// Cache stores computed figures. Refunds invalidate entries for the courses
// they touch.
type Cache interface {
	GetSales(ctx context.Context, courseID int64) (*CourseSales, bool, error)
	SetSales(ctx context.Context, s *CourseSales) error
}

// Service computes sales figures for one tenant.
type Service struct {
	src   Source
	cache Cache
	// netOfCancel marks data sources whose payment amount holds the balance
	// after cancellation rather than the gross charge.
	netOfCancel bool
}

// NewService creates a Service. cache may be nil.
func NewService(src Source, amountIsNetOfCancel bool, cache Cache) *Service {
	return &Service{src: src, netOfCancel: amountIsNetOfCancel, cache: cache}
}

// CourseSales allocates every covering payment across its lines by price and
// sums the course's shares. Cache errors fall back to computing.
func (s *Service) CourseSales(ctx context.Context, courseID int64) (*CourseSales, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.GetSales(ctx, courseID)
		if err != nil {
			zctx.From(ctx).Warn("Sales cache read failed", zap.Int64("course_id", courseID), zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	out, err := s.compute(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetSales(ctx, out); err != nil {
			zctx.From(ctx).Warn("Sales cache write failed", zap.Int64("course_id", courseID), zap.Error(err))
		}
	}
	return out, nil
}

func (s *Service) compute(ctx context.Context, courseID int64) (*CourseSales, error) {
	list, err := s.src.ListCoursePayments(ctx, courseID)
	if err != nil {
		return nil, errors.Wrap(err, "list course payments")
	}

	key := lineKey(payment.CategoryCourse, courseID)
	out := &CourseSales{CourseID: courseID}
	for _, pp := range list {
		items := make([]allocation.Item, 0, len(pp.Items))
		for _, it := range pp.Items {
			items = append(items, allocation.Item{
				Key:   lineKey(it.Category, it.ProductID),
				Price: it.FinalPrice(),
			})
		}

		refunded := pp.Payment.Canceled()
		gross := allocation.GrossPaid(pp.Payment.Amount, refunded, s.netOfCancel)

		out.Payments++
		out.Paid += allocation.ByRatio(items, gross).Get(key)
		out.Refunded += allocation.ByRatio(items, refunded).Get(key)
	}
	out.Net = out.Paid - out.Refunded
	return out, nil
}

func lineKey(c payment.ProductCategory, id int64) string {
	return string(c) + ":" + strconv.FormatInt(id, 10)
}
