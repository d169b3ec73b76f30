//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go"

	"github.com/xenking/edu-backoffice/internal/domain/auth"
	"github.com/xenking/edu-backoffice/internal/domain/payment"
	"github.com/xenking/edu-backoffice/internal/domain/report"
)

const fixtures = `
INSERT INTO users (id, name, phone, email) VALUES (1, '김철수', '010-1234-5678', 'kim@example.com');
INSERT INTO courses (id, title, parent_id) VALUES (30, '패키지', NULL), (31, '자바 기초', 30), (32, '파이썬', NULL);
INSERT INTO orders (id, order_name, amount, paid_amount, status, user_id)
VALUES (100, '자바 기초 외 1건', 10000, 10000, 'PAID', 1),
       (101, '파이썬', 8000, 8000, 'PAID', 1);
INSERT INTO order_items (order_id, product_id, category, original_price, discounted_price, parent_course_id)
VALUES (100, 31, 'COURSE', 8000.00, 6000.00, 30),
       (100, 5, 'EBOOK', 4000.00, NULL, NULL),
       (101, 32, 'COURSE', 8000.00, NULL, NULL);
INSERT INTO payments (id, order_id, payment_key, amount, status, method, approved_at)
VALUES (200, 100, 'pk_100', 10000, 'DONE', 'CARD', '2024-03-01T10:00:00Z'),
       (201, 101, 'pk_101', 8000, 'DONE', 'TRANSFER', '2024-03-02T10:00:00Z');
INSERT INTO toss_customers (id, payment_key, order_name, order_id, payment_status, payment_method, final_price, user_id, course_id)
VALUES (1, 'pk_100', '자바 기초 외 1건', 'ord-100', 'DONE', 'CARD', 10000, 1, 31),
       (2, 'pk_101', '파이썬', 'ord-101', 'DONE', '계좌이체', 8000, 1, 32),
       (3, '', '무료 강의', 'free-1', 'DONE', '', 0, 1, 32);
INSERT INTO enrollments (user_id, course_id) VALUES (1, 30), (1, 31), (1, 32);
`

func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("backoffice"),
		tcpostgres.WithUsername("backoffice"),
		tcpostgres.WithPassword("backoffice"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	require.NoError(t, RunMigrations(ctx, pool), "schema is idempotent")
	_, err = pool.Exec(ctx, fixtures)
	require.NoError(t, err)
	return pool
}

func TestStore(t *testing.T) {
	pool := setupDB(t)
	s := NewStore(pool)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	t.Run("Records", func(t *testing.T) {
		rec, err := s.GetGatewayRecord(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "pk_101", rec.PaymentKey)
		assert.Equal(t, "ord-101", rec.GatewayOrderID)
		assert.Nil(t, rec.RefundableAmount)

		_, err = s.GetGatewayRecord(ctx, 99)
		require.ErrorIs(t, err, payment.ErrNotFound)

		page, err := s.ListGatewayRecords(ctx, payment.RecordFilter{AfterID: 1, Limit: 10})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, int64(2), page[0].ID)

		course := int64(32)
		page, err = s.ListGatewayRecords(ctx, payment.RecordFilter{CourseID: &course, Limit: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, int64(2), page[0].ID)
	})

	t.Run("PaymentAndOrder", func(t *testing.T) {
		p, err := s.GetPaymentByKey(ctx, "pk_100")
		require.NoError(t, err)
		assert.Equal(t, int64(200), p.ID)
		assert.Equal(t, payment.MethodCard, p.Method)
		assert.Nil(t, p.CancelAmount)

		_, err = s.GetPaymentByKey(ctx, "")
		require.ErrorIs(t, err, payment.ErrNotFound)

		o, err := s.GetOrder(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, payment.OrderPaid, o.Status)
		require.Len(t, o.Items, 2)
		assert.True(t, decimal.NewFromInt(6000).Equal(o.Items[0].FinalPrice()))
		require.NotNil(t, o.Items[0].ParentCourseID)
		assert.Equal(t, int64(30), *o.Items[0].ParentCourseID)

		c, err := s.GetCourse(ctx, 31)
		require.NoError(t, err)
		assert.Equal(t, "자바 기초", c.Title)
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		status := payment.StatusCanceled
		err := s.WithTx(ctx, func(w payment.Writer) error {
			require.NoError(t, w.UpdatePayment(ctx, 201, payment.PaymentPatch{Status: &status}))
			return errors.New("abort")
		})
		require.Error(t, err)

		p, err := s.GetPayment(ctx, 201)
		require.NoError(t, err)
		assert.Equal(t, payment.StatusDone, p.Status)
	})

	t.Run("RefundWrite", func(t *testing.T) {
		cancel := int64(10000)
		zero := int64(0)
		now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
		reason := "단순 변심"
		pStatus := payment.StatusCanceled
		oStatus := payment.OrderRefunded
		gwStatus := "CANCELED"

		var deleted int64
		err := s.WithTx(ctx, func(w payment.Writer) error {
			if err := w.UpdatePayment(ctx, 200, payment.PaymentPatch{
				CancelAmount: &cancel, RefundableAmount: &zero, CanceledAt: &now, CancelReason: &reason, Status: &pStatus,
			}); err != nil {
				return err
			}
			if err := w.UpdateOrder(ctx, 100, payment.OrderPatch{Status: &oStatus}); err != nil {
				return err
			}
			if err := w.UpdateGatewayRecord(ctx, 1, payment.GatewayRecordPatch{
				Status: &gwStatus, CancelAmount: &cancel, CanceledAt: &now,
			}); err != nil {
				return err
			}
			n, err := w.DeleteEnrollments(ctx, 1, []int64{31, 30})
			deleted = n
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		p, err := s.GetPayment(ctx, 200)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), p.Canceled())
		assert.Equal(t, payment.StatusCanceled, p.Status)
		require.NotNil(t, p.CanceledAt)
		assert.True(t, now.Equal(*p.CanceledAt))

		rec, err := s.GetGatewayRecord(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "CANCELED", rec.Status)
		assert.True(t, rec.HasCancel())

		err = s.WithTx(ctx, func(w payment.Writer) error {
			return w.UpdateOrder(ctx, 999, payment.OrderPatch{Status: &oStatus})
		})
		require.ErrorIs(t, err, payment.ErrNotFound)
	})

	t.Run("CoursePayments", func(t *testing.T) {
		list, err := s.ListCoursePayments(ctx, 31)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, int64(200), list[0].Payment.ID)
		assert.Len(t, list[0].Items, 2)

		list, err = s.ListCoursePayments(ctx, 5)
		require.NoError(t, err)
		assert.Empty(t, list, "ebook ids do not match courses")
	})

	t.Run("PaymentRows", func(t *testing.T) {
		var rows []report.Row
		err := s.EachPaymentRow(ctx, report.Filter{}, func(r report.Row) error {
			rows = append(rows, r)
			return nil
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "자바 기초", rows[0].CourseTitle)
		assert.Equal(t, "김철수", rows[0].Buyer.Name)

		course := int64(32)
		rows = rows[:0]
		err = s.EachPaymentRow(ctx, report.Filter{
			CourseID: &course,
			From:     time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		}, func(r report.Row) error {
			rows = append(rows, r)
			return nil
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(201), rows[0].PaymentID)
	})

	t.Run("APIKeys", func(t *testing.T) {
		pepper := []byte("pepper")
		repo := NewAPIKeyRepository(pool)
		require.NoError(t, repo.Upsert(ctx, auth.APIKeyInfo{
			ID: "k1", KeyHash: auth.Hash(pepper, "old"), Name: "ops", Scopes: []string{"read"},
		}))
		require.NoError(t, repo.Upsert(ctx, auth.APIKeyInfo{
			ID: "k1", KeyHash: auth.Hash(pepper, "secret"), Name: "ops", Scopes: []string{auth.ScopeAdmin},
		}))

		a := auth.NewAuthenticator(repo, pepper)
		p, err := a.Authenticate(ctx, "secret")
		require.NoError(t, err)
		assert.True(t, p.Has(auth.ScopeAdmin))
		assert.Equal(t, "k1", p.KeyID)

		_, err = a.Authenticate(ctx, "old")
		require.ErrorIs(t, err, payment.ErrUnauthorized)

		_, err = a.Authenticate(ctx, "wrong")
		require.ErrorIs(t, err, payment.ErrUnauthorized)
	})
}
