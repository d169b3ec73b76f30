// Package payment holds the order, payment and gateway-mirror vocabulary
// shared by the reconciliation, refund and reporting services.
package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderPaid            OrderStatus = "PAID"
	OrderPartialRefunded OrderStatus = "PARTIAL_REFUNDED"
	OrderRefunded        OrderStatus = "REFUNDED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderFailed          OrderStatus = "FAILED"
)

// Status is the lifecycle state of a Payment.
type Status string

const (
	StatusReady                   Status = "READY"
	StatusWaitingForDeposit       Status = "WAITING_FOR_DEPOSIT"
	StatusWaitingForDirectDeposit Status = "WAITING_FOR_DIRECT_DEPOSIT"
	StatusDone                    Status = "DONE"
	StatusPartialCanceled         Status = "PARTIAL_CANCELED"
	StatusCanceled                Status = "CANCELED"
	StatusFailed                  Status = "FAILED"
)

// ProductCategory distinguishes the kind of catalog item bought.
type ProductCategory string

const (
	CategoryCourse ProductCategory = "COURSE"
	CategoryEbook  ProductCategory = "EBOOK"
)

// CouponSnapshot is the coupon as it was applied when the order was placed.
type CouponSnapshot struct {
	Code           string          `json:"code,omitempty"`
	DiscountType   string          `json:"discountType"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
}

// Order is a purchase transaction. There is exactly one Order per gateway
// transaction.
type Order struct {
	ID         int64
	Name       string
	Amount     int64
	PaidAmount int64
	Status     OrderStatus
	UserID     int64
	Coupon     *CouponSnapshot
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Items      []OrderItem
}

// OrderItem is one purchased line within an Order.
type OrderItem struct {
	ID              int64
	OrderID         int64
	ProductID       int64
	Category        ProductCategory
	OriginalPrice   decimal.Decimal
	DiscountedPrice *decimal.Decimal
	ParentCourseID  *int64
}

// FinalPrice is the price actually charged for the line.
func (i OrderItem) FinalPrice() decimal.Decimal {
	if i.DiscountedPrice != nil {
		return *i.DiscountedPrice
	}
	return i.OriginalPrice
}

// Payment is the local record of a gateway transaction, 1:1 with an Order
// through PaymentKey.
type Payment struct {
	ID               int64
	OrderID          int64
	PaymentKey       string
	Amount           int64
	CancelAmount     *int64
	RefundableAmount *int64
	Status           Status
	Method           Method
	TaxFree          bool
	CancelReason     string
	CanceledAt       *time.Time
	ReceiptURL       string
	MID              string
	SecretKeyRef     string
	ApprovedAt       *time.Time
}

// Canceled returns the cumulative refunded amount, treating nil as zero.
func (p *Payment) Canceled() int64 {
	if p.CancelAmount == nil {
		return 0
	}
	return *p.CancelAmount
}

// Remaining returns how much of the payment can still be refunded.
func (p *Payment) Remaining() int64 {
	if r := p.Amount - p.Canceled(); r > 0 {
		return r
	}
	return 0
}

// GatewayRecord is the legacy per-tenant mirror of the gateway's payment
// object. Its Status uses the gateway's vocabulary, not Status.
type GatewayRecord struct {
	ID               int64
	PaymentKey       string
	OrderName        string
	GatewayOrderID   string
	Status           string
	Method           string
	TaxFree          bool
	FinalPrice       int64
	CancelAmount     int64
	RefundableAmount *int64
	CanceledAt       *time.Time
	CancelReason     string
	ReceiptURL       string
	MID              string
	SecretKeyRef     string
	UserID           *int64
	CourseID         *int64
	UpdatedAt        time.Time
}

// HasCancel reports whether the mirror shows any cancellation activity.
func (r *GatewayRecord) HasCancel() bool {
	return r.CanceledAt != nil || r.CancelAmount > 0
}

// Course is the subset of the catalog needed for enrollment cleanup and
// reporting.
type Course struct {
	ID       int64
	Title    string
	ParentID *int64
}

// Buyer identifies the purchaser shown on reports.
type Buyer struct {
	ID    int64
	Name  string
	Phone string
	Email string
}
