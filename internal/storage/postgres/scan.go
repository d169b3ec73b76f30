package postgres

import (
	"github.com/jackc/pgx/v5"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
)

func scanRecord(row pgx.CollectableRow) (payment.GatewayRecord, error) {
	var r payment.GatewayRecord
	err := row.Scan(
		&r.ID, &r.PaymentKey, &r.OrderName, &r.GatewayOrderID, &r.Status, &r.Method, &r.TaxFree,
		&r.FinalPrice, &r.CancelAmount, &r.RefundableAmount, &r.CanceledAt, &r.CancelReason, &r.ReceiptURL, &r.MID,
		&r.SecretKeyRef, &r.UserID, &r.CourseID, &r.UpdatedAt,
	)
	return r, err
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.PaymentKey, &p.Amount, &p.CancelAmount, &p.RefundableAmount, &p.Status,
		&p.Method, &p.TaxFree, &p.CancelReason, &p.CanceledAt, &p.ReceiptURL, &p.MID, &p.SecretKeyRef, &p.ApprovedAt,
	)
	return p, err
}

func scanItem(row pgx.CollectableRow) (payment.OrderItem, error) {
	var it payment.OrderItem
	err := row.Scan(
		&it.ID, &it.OrderID, &it.ProductID, &it.Category, &it.OriginalPrice, &it.DiscountedPrice, &it.ParentCourseID,
	)
	return it, err
}
