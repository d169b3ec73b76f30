package gateway

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Payment is the gateway's payment object.
type Payment struct {
	PaymentKey    string
	OrderID       string
	OrderName     string
	Status        string
	Method        string
	MID           string
	TotalAmount   int64
	BalanceAmount int64
	TaxFreeAmount int64
	RequestedAt   *time.Time
	ApprovedAt    *time.Time
	ReceiptURL    string
	Cancels       []Cancel
}

// Cancel is one entry of the payment's cancellation history.
type Cancel struct {
	TransactionKey   string
	CancelAmount     int64
	RefundableAmount int64
	TaxFreeAmount    int64
	CancelReason     string
	CanceledAt       *time.Time
}

// LastCancel returns the most recent cancellation, or nil.
func (p *Payment) LastCancel() *Cancel {
	if len(p.Cancels) == 0 {
		return nil
	}
	return &p.Cancels[len(p.Cancels)-1]
}

// Refundable returns the remaining refundable balance: the last
// cancellation's refundableAmount when there is history, otherwise
// balanceAmount.
func (p *Payment) Refundable() int64 {
	if c := p.LastCancel(); c != nil {
		return c.RefundableAmount
	}
	return p.BalanceAmount
}

// CanceledTotal sums every cancellation's amount.
func (p *Payment) CanceledTotal() int64 {
	var s int64
	for _, c := range p.Cancels {
		s += c.CancelAmount
	}
	return s
}

// BankAccount is the refund destination for virtual-account payments.
type BankAccount struct {
	Bank          string
	AccountNumber string
	HolderName    string
}

// CancelRequest is the body of a cancel call. A nil Amount cancels the whole
// remaining balance.
type CancelRequest struct {
	Reason        string
	Amount        *int64
	RefundAccount *BankAccount
}

func (r CancelRequest) encode() []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("cancelReason")
	e.Str(r.Reason)
	if r.Amount != nil {
		e.FieldStart("cancelAmount")
		e.Int64(*r.Amount)
	}
	if a := r.RefundAccount; a != nil {
		e.FieldStart("refundReceiveAccount")
		e.ObjStart()
		e.FieldStart("bank")
		e.Str(a.Bank)
		e.FieldStart("accountNumber")
		e.Str(a.AccountNumber)
		e.FieldStart("holderName")
		e.Str(a.HolderName)
		e.ObjEnd()
	}
	e.ObjEnd()
	return e.Bytes()
}

// DecodePayment parses a gateway payment object.
func DecodePayment(data []byte) (*Payment, error) {
	var p Payment
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "paymentKey":
			p.PaymentKey, err = optStr(d)
		case "orderId":
			p.OrderID, err = optStr(d)
		case "orderName":
			p.OrderName, err = optStr(d)
		case "status":
			p.Status, err = optStr(d)
		case "method":
			p.Method, err = optStr(d)
		case "mId":
			p.MID, err = optStr(d)
		case "totalAmount":
			p.TotalAmount, err = optInt(d)
		case "balanceAmount":
			p.BalanceAmount, err = optInt(d)
		case "taxFreeAmount":
			p.TaxFreeAmount, err = optInt(d)
		case "requestedAt":
			p.RequestedAt, err = optTime(d)
		case "approvedAt":
			p.ApprovedAt, err = optTime(d)
		case "receipt":
			p.ReceiptURL, err = decodeReceipt(d)
		case "cancels":
			p.Cancels, err = decodeCancels(d)
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "field %q", key)
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode payment")
	}
	if p.PaymentKey == "" {
		return nil, errors.New("decode payment: missing paymentKey")
	}
	return &p, nil
}

func decodeReceipt(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	var url string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "url" {
			return d.Skip()
		}
		var err error
		url, err = optStr(d)
		return err
	})
	return url, err
}

func decodeCancels(d *jx.Decoder) ([]Cancel, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var out []Cancel
	err := d.Arr(func(d *jx.Decoder) error {
		var c Cancel
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "transactionKey":
				c.TransactionKey, err = optStr(d)
			case "cancelAmount":
				c.CancelAmount, err = optInt(d)
			case "refundableAmount":
				c.RefundableAmount, err = optInt(d)
			case "taxFreeAmount":
				c.TaxFreeAmount, err = optInt(d)
			case "cancelReason":
				c.CancelReason, err = optStr(d)
			case "canceledAt":
				c.CanceledAt, err = optTime(d)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func optInt(d *jx.Decoder) (int64, error) {
	if d.Next() == jx.Null {
		return 0, d.Null()
	}
	return d.Int64()
}

func optTime(d *jx.Decoder) (*time.Time, error) {
	s, err := optStr(d)
	if err != nil || s == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// apiError is the gateway's error body.
type apiError struct {
	Code    string
	Message string
}

func decodeAPIError(data []byte) apiError {
	var e apiError
	d := jx.DecodeBytes(data)
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			e.Code, err = optStr(d)
		case "message":
			e.Message, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return e
}
