package payment

import (
	"context"
	"time"
)

// PaymentPatch lists Payment columns to overwrite. Nil fields are left alone.
type PaymentPatch struct {
	PaymentKey       *string
	Method           *Method
	TaxFree          *bool
	CancelAmount     *int64
	RefundableAmount *int64
	CanceledAt       *time.Time
	CancelReason     *string
	ReceiptURL       *string
	MID              *string
	SecretKeyRef     *string
	Status           *Status
}

// IsEmpty reports whether the patch changes nothing.
func (p PaymentPatch) IsEmpty() bool {
	return p == PaymentPatch{}
}

// Apply returns a copy of pay with the patch applied.
func (p PaymentPatch) Apply(pay Payment) Payment {
	if p.PaymentKey != nil {
		pay.PaymentKey = *p.PaymentKey
	}
	if p.Method != nil {
		pay.Method = *p.Method
	}
	if p.TaxFree != nil {
		pay.TaxFree = *p.TaxFree
	}
	if p.CancelAmount != nil {
		v := *p.CancelAmount
		pay.CancelAmount = &v
	}
	if p.RefundableAmount != nil {
		v := *p.RefundableAmount
		pay.RefundableAmount = &v
	}
	if p.CanceledAt != nil {
		v := *p.CanceledAt
		pay.CanceledAt = &v
	}
	if p.CancelReason != nil {
		pay.CancelReason = *p.CancelReason
	}
	if p.ReceiptURL != nil {
		pay.ReceiptURL = *p.ReceiptURL
	}
	if p.MID != nil {
		pay.MID = *p.MID
	}
	if p.SecretKeyRef != nil {
		pay.SecretKeyRef = *p.SecretKeyRef
	}
	if p.Status != nil {
		pay.Status = *p.Status
	}
	return pay
}

// OrderPatch lists Order columns to overwrite.
type OrderPatch struct {
	Status *OrderStatus
}

// IsEmpty reports whether the patch changes nothing.
func (p OrderPatch) IsEmpty() bool {
	return p.Status == nil
}

// GatewayRecordPatch lists mirror columns to overwrite.
type GatewayRecordPatch struct {
	Status           *string
	Method           *string
	FinalPrice       *int64
	CancelAmount     *int64
	RefundableAmount *int64
	CanceledAt       *time.Time
	CancelReason     *string
	ReceiptURL       *string
}

// IsEmpty reports whether the patch changes nothing.
func (p GatewayRecordPatch) IsEmpty() bool {
	return p == GatewayRecordPatch{}
}

// Apply returns a copy of rec with the patch applied.
func (p GatewayRecordPatch) Apply(rec GatewayRecord) GatewayRecord {
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.Method != nil {
		rec.Method = *p.Method
	}
	if p.FinalPrice != nil {
		rec.FinalPrice = *p.FinalPrice
	}
	if p.CancelAmount != nil {
		rec.CancelAmount = *p.CancelAmount
	}
	if p.RefundableAmount != nil {
		v := *p.RefundableAmount
		rec.RefundableAmount = &v
	}
	if p.CanceledAt != nil {
		v := *p.CanceledAt
		rec.CanceledAt = &v
	}
	if p.CancelReason != nil {
		rec.CancelReason = *p.CancelReason
	}
	if p.ReceiptURL != nil {
		rec.ReceiptURL = *p.ReceiptURL
	}
	return rec
}

// RecordFilter narrows a page of gateway records.
type RecordFilter struct {
	// AfterID is the exclusive lower bound on record id.
	AfterID int64
	// CourseID restricts the page to one course when non-nil.
	CourseID *int64
	Limit    int
}

// Reader provides the lookups shared by the back-office services. Lookups
// return an error matching ErrNotFound when the row does not exist.
type Reader interface {
	GetGatewayRecord(ctx context.Context, id int64) (*GatewayRecord, error)
	// ListGatewayRecords returns records with id > AfterID in ascending id
	// order, at most Limit of them.
	ListGatewayRecords(ctx context.Context, f RecordFilter) ([]GatewayRecord, error)
	GetPaymentByKey(ctx context.Context, paymentKey string) (*Payment, error)
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	// GetOrder returns the order with its items.
	GetOrder(ctx context.Context, id int64) (*Order, error)
	GetCourse(ctx context.Context, id int64) (*Course, error)
}

// Writer mutates rows. Within Store.WithTx all calls share one transaction.
type Writer interface {
	UpdatePayment(ctx context.Context, id int64, p PaymentPatch) error
	UpdateOrder(ctx context.Context, id int64, p OrderPatch) error
	UpdateGatewayRecord(ctx context.Context, id int64, p GatewayRecordPatch) error
	// DeleteEnrollments removes the user's enrollments in the given courses
	// and returns how many rows were deleted.
	DeleteEnrollments(ctx context.Context, userID int64, courseIDs []int64) (int64, error)
}

// Store is a tenant database.
type Store interface {
	Reader
	// WithTx runs fn in a single transaction, committing when fn returns nil
	// and rolling back otherwise.
	WithTx(ctx context.Context, fn func(w Writer) error) error
}
