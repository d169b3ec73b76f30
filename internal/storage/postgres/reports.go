package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/edu-backoffice/internal/domain/report"
	"github.com/xenking/edu-backoffice/internal/domain/stats"
)

// Settled payments are those where money moved at some point.
const settledStatuses = `('DONE', 'PARTIAL_CANCELED', 'CANCELED')`

const (
	listCoursePaymentsSQL = `SELECT ` + paymentColumns + ` FROM payments p
	WHERE p.status IN ` + settledStatuses + `
	  AND EXISTS (
		SELECT 1 FROM order_items i
		WHERE i.order_id = p.order_id AND i.category = 'COURSE' AND i.product_id = $1
	  )
	ORDER BY p.id`

	paymentRowsSQL = `SELECT p.id, COALESCE(c.title, o.order_name), COALESCE(u.name, ''), COALESCE(u.phone, ''),
		COALESCE(u.email, ''), p.approved_at, p.method, p.amount, COALESCE(p.cancel_amount, 0),
		p.status, o.status, p.receipt_url
	FROM payments p
	JOIN orders o ON o.id = p.order_id
	LEFT JOIN users u ON u.id = o.user_id
	LEFT JOIN LATERAL (
		SELECT c.title FROM order_items i JOIN courses c ON c.id = i.product_id
		WHERE i.order_id = o.id AND i.category = 'COURSE'
		ORDER BY i.id LIMIT 1
	) c ON TRUE
	WHERE ($1::bigint IS NULL OR EXISTS (
		SELECT 1 FROM order_items i
		WHERE i.order_id = o.id AND i.category = 'COURSE' AND i.product_id = $1
	  ))
	  AND ($2::timestamptz IS NULL OR p.approved_at >= $2)
	  AND ($3::timestamptz IS NULL OR p.approved_at < $3)
	ORDER BY p.approved_at NULLS LAST, p.id`
)

var (
	_ stats.Source  = (*Store)(nil)
	_ report.Source = (*Store)(nil)
)

// ListCoursePayments returns settled payments whose order includes the
// course, each with all of its order's lines.
func (s *Store) ListCoursePayments(ctx context.Context, courseID int64) ([]stats.PaidPayment, error) {
	rows, err := s.pool.Query(ctx, listCoursePaymentsSQL, courseID)
	if err != nil {
		return nil, errors.Wrapf(err, "list payments for course %d", courseID)
	}
	pays, err := pgx.CollectRows(rows, scanPayment)
	if err != nil {
		return nil, errors.Wrap(err, "scan payments")
	}
	if len(pays) == 0 {
		return nil, nil
	}

	orderIDs := make([]int64, len(pays))
	for i, p := range pays {
		orderIDs[i] = p.OrderID
	}
	items, err := s.listItems(ctx, orderIDs)
	if err != nil {
		return nil, err
	}

	out := make([]stats.PaidPayment, len(pays))
	for i, p := range pays {
		out[i] = stats.PaidPayment{Payment: p, Items: items[p.OrderID]}
	}
	return out, nil
}

// EachPaymentRow streams report rows without buffering the result set.
func (s *Store) EachPaymentRow(ctx context.Context, f report.Filter, fn func(report.Row) error) error {
	rows, err := s.pool.Query(ctx, paymentRowsSQL, f.CourseID, optTime(f.From), optTime(f.To))
	if err != nil {
		return errors.Wrap(err, "query payment rows")
	}

	var r report.Row
	_, err = pgx.ForEachRow(rows, []any{
		&r.PaymentID, &r.CourseTitle, &r.Buyer.Name, &r.Buyer.Phone, &r.Buyer.Email, &r.PaidAt,
		&r.Method, &r.Amount, &r.CancelAmount, &r.PaymentStatus, &r.OrderStatus, &r.ReceiptURL,
	}, func() error {
		return fn(r)
	})
	if err != nil {
		return errors.Wrap(err, "iterate payment rows")
	}
	return nil
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
