// Package report exports payments as a spreadsheet-friendly CSV.
package report

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/edu-backoffice/internal/domain/allocation"
	"github.com/xenking/edu-backoffice/internal/domain/payment"
)

// Filter narrows the export. Zero values mean no restriction.
type Filter struct {
	CourseID *int64
	From     time.Time
	To       time.Time
}

// Row is one payment joined with its course and buyer.
type Row struct {
	PaymentID     int64
	CourseTitle   string
	Buyer         payment.Buyer
	PaidAt        *time.Time
	Method        payment.Method
	Amount        int64
	CancelAmount  int64
	PaymentStatus payment.Status
	OrderStatus   payment.OrderStatus
	ReceiptURL    string
}

// Source streams report rows ordered by payment time.
type Source interface {
	EachPaymentRow(ctx context.Context, f Filter, fn func(Row) error) error
}

// Header is the fixed column order.
var Header = []string{
	"강의명",
	"구매자",
	"연락처",
	"이메일",
	"결제일시",
	"결제수단",
	"실결제금액",
	"결제상태",
	"주문상태",
	"환불금액",
	"영수증",
}

const bom = "\ufeff"

// KST is the timezone paid-at timestamps are rendered in.
var KST = time.FixedZone("KST", 9*60*60)

// Service writes payment reports for one tenant.
type Service struct {
	src         Source
	netOfCancel bool
}

// NewService creates a Service.
func NewService(src Source, amountIsNetOfCancel bool) *Service {
	return &Service{src: src, netOfCancel: amountIsNetOfCancel}
}

// Export writes the header and one line per payment to w and returns the
// number of payment rows written. Nothing reaches w until the source yields
// its first row or finishes, so a failing query leaves w untouched.
func (s *Service) Export(ctx context.Context, w io.Writer, f Filter) (int, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return 0, payment.Invalid("report range ends before it starts")
	}

	cw := csv.NewWriter(w)
	started := false
	start := func() error {
		started = true
		if _, err := io.WriteString(w, bom); err != nil {
			return errors.Wrap(err, "write bom")
		}
		return errors.Wrap(cw.Write(Header), "write header")
	}

	var n int
	err := s.src.EachPaymentRow(ctx, f, func(r Row) error {
		if !started {
			if err := start(); err != nil {
				return err
			}
		}
		n++
		return cw.Write(s.record(r))
	})
	if err != nil {
		return n, errors.Wrap(err, "export rows")
	}
	if !started {
		if err := start(); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, errors.Wrap(err, "flush")
	}
	return n, nil
}

func (s *Service) record(r Row) []string {
	paidAt := ""
	if r.PaidAt != nil {
		paidAt = r.PaidAt.In(KST).Format(time.DateTime)
	}
	gross := allocation.GrossPaid(r.Amount, r.CancelAmount, s.netOfCancel)
	net := max(0, gross-r.CancelAmount)
	return []string{
		r.CourseTitle,
		r.Buyer.Name,
		r.Buyer.Phone,
		r.Buyer.Email,
		paidAt,
		r.Method.Label(),
		strconv.FormatInt(net, 10),
		r.PaymentStatus.Label(),
		r.OrderStatus.Label(),
		strconv.FormatInt(r.CancelAmount, 10),
		r.ReceiptURL,
	}
}
