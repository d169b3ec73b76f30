package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
)

const (
	recordColumns = `id, payment_key, order_name, order_id, payment_status, payment_method, tax_free,
	final_price, cancel_amount, refundable_amount, canceled_at, cancel_reason, receipt_url, mid,
	secret_key_ref, user_id, course_id, updated_at`

	getRecordSQL = `SELECT ` + recordColumns + ` FROM toss_customers WHERE id = $1`

	listRecordsSQL = `SELECT ` + recordColumns + ` FROM toss_customers
	WHERE id > $1 AND ($2::bigint IS NULL OR course_id = $2)
	ORDER BY id LIMIT $3`

	paymentColumns = `id, order_id, payment_key, amount, cancel_amount, refundable_amount, status,
	method, tax_free, cancel_reason, canceled_at, receipt_url, mid, secret_key_ref, approved_at`

	getPaymentSQL      = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	getPaymentByKeySQL = `SELECT ` + paymentColumns + ` FROM payments WHERE payment_key = $1 AND payment_key <> ''`

	getOrderSQL = `SELECT id, order_name, amount, paid_amount, status, user_id, coupon, created_at, updated_at
	FROM orders WHERE id = $1`

	itemColumns = `id, order_id, product_id, category, original_price, discounted_price, parent_course_id`

	listItemsSQL = `SELECT ` + itemColumns + ` FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id`

	getCourseSQL = `SELECT id, title, parent_id FROM courses WHERE id = $1`

	deleteEnrollmentsSQL = `DELETE FROM enrollments WHERE user_id = $1 AND course_id = ANY($2)`
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ payment.Store = (*Store)(nil)

// Store is one tenant's database.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store that uses the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx runs fn inside a transaction, committing when it returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(w payment.Writer) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&writer{q: tx})
	})
}

func (s *Store) GetGatewayRecord(ctx context.Context, id int64) (*payment.GatewayRecord, error) {
	rows, err := s.pool.Query(ctx, getRecordSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get gateway record %d", id)
	}
	r, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.NotFound("gateway record", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get gateway record %d", id)
	}
	return &r, nil
}

func (s *Store) ListGatewayRecords(ctx context.Context, f payment.RecordFilter) ([]payment.GatewayRecord, error) {
	rows, err := s.pool.Query(ctx, listRecordsSQL, f.AfterID, f.CourseID, f.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "list gateway records")
	}
	return pgx.CollectRows(rows, scanRecord)
}

func (s *Store) GetPaymentByKey(ctx context.Context, key string) (*payment.Payment, error) {
	return s.getPayment(ctx, getPaymentByKeySQL, key)
}

func (s *Store) GetPayment(ctx context.Context, id int64) (*payment.Payment, error) {
	return s.getPayment(ctx, getPaymentSQL, id)
}

func (s *Store) getPayment(ctx context.Context, sql string, key any) (*payment.Payment, error) {
	rows, err := s.pool.Query(ctx, sql, key)
	if err != nil {
		return nil, errors.Wrapf(err, "get payment %v", key)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.NotFound("payment", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get payment %v", key)
	}
	return &p, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*payment.Order, error) {
	var o payment.Order
	err := s.pool.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID, &o.Name, &o.Amount, &o.PaidAmount, &o.Status, &o.UserID, &o.Coupon, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.NotFound("order", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %d", id)
	}

	items, err := s.listItems(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	return &o, nil
}

func (s *Store) listItems(ctx context.Context, orderIDs []int64) (map[int64][]payment.OrderItem, error) {
	rows, err := s.pool.Query(ctx, listItemsSQL, orderIDs)
	if err != nil {
		return nil, errors.Wrap(err, "list order items")
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, errors.Wrap(err, "scan order items")
	}
	out := make(map[int64][]payment.OrderItem, len(orderIDs))
	for _, it := range items {
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, nil
}

func (s *Store) GetCourse(ctx context.Context, id int64) (*payment.Course, error) {
	var c payment.Course
	err := s.pool.QueryRow(ctx, getCourseSQL, id).Scan(&c.ID, &c.Title, &c.ParentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.NotFound("course", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get course %d", id)
	}
	return &c, nil
}

type writer struct {
	q querier
}

func (w *writer) UpdatePayment(ctx context.Context, id int64, p payment.PaymentPatch) error {
	var u update
	u.set("payment_key", p.PaymentKey)
	u.set("method", p.Method)
	u.set("tax_free", p.TaxFree)
	u.set("cancel_amount", p.CancelAmount)
	u.set("refundable_amount", p.RefundableAmount)
	u.set("canceled_at", p.CanceledAt)
	u.set("cancel_reason", p.CancelReason)
	u.set("receipt_url", p.ReceiptURL)
	u.set("mid", p.MID)
	u.set("secret_key_ref", p.SecretKeyRef)
	u.set("status", p.Status)
	return u.exec(ctx, w.q, "payments", id, "payment")
}

func (w *writer) UpdateOrder(ctx context.Context, id int64, p payment.OrderPatch) error {
	var u update
	u.set("status", p.Status)
	if !u.empty() {
		u.raw("updated_at = now()")
	}
	return u.exec(ctx, w.q, "orders", id, "order")
}

func (w *writer) UpdateGatewayRecord(ctx context.Context, id int64, p payment.GatewayRecordPatch) error {
	var u update
	u.set("payment_status", p.Status)
	u.set("payment_method", p.Method)
	u.set("final_price", p.FinalPrice)
	u.set("cancel_amount", p.CancelAmount)
	u.set("refundable_amount", p.RefundableAmount)
	u.set("canceled_at", p.CanceledAt)
	u.set("cancel_reason", p.CancelReason)
	u.set("receipt_url", p.ReceiptURL)
	if !u.empty() {
		u.raw("updated_at = now()")
	}
	return u.exec(ctx, w.q, "toss_customers", id, "gateway record")
}

func (w *writer) DeleteEnrollments(ctx context.Context, userID int64, courseIDs []int64) (int64, error) {
	if len(courseIDs) == 0 {
		return 0, nil
	}
	tag, err := w.q.Exec(ctx, deleteEnrollmentsSQL, userID, courseIDs)
	if err != nil {
		return 0, errors.Wrap(err, "delete enrollments")
	}
	return tag.RowsAffected(), nil
}

// update builds "UPDATE t SET a = $1, b = $2 WHERE id = $n" from the non-nil
// fields of a patch.
type update struct {
	sets []string
	args []any
}

func (u *update) set(column string, v any) {
	if isNilPtr(v) {
		return
	}
	u.args = append(u.args, v)
	u.sets = append(u.sets, fmt.Sprintf("%s = $%d", column, len(u.args)))
}

func (u *update) raw(expr string) {
	u.sets = append(u.sets, expr)
}

func (u *update) empty() bool { return len(u.sets) == 0 }

func (u *update) exec(ctx context.Context, q querier, table string, id int64, entity string) error {
	if u.empty() {
		return nil
	}
	args := append(u.args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", table, strings.Join(u.sets, ", "), len(args))
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return errors.Wrapf(err, "update %s %d", entity, id)
	}
	if tag.RowsAffected() == 0 {
		return payment.NotFound(entity, id)
	}
	return nil
}

func isNilPtr(v any) bool {
	switch p := v.(type) {
	case *string:
		return p == nil
	case *int64:
		return p == nil
	case *bool:
		return p == nil
	case *payment.Method:
		return p == nil
	case *payment.Status:
		return p == nil
	case *payment.OrderStatus:
		return p == nil
	case *time.Time:
		return p == nil
	default:
		return v == nil
	}
}
