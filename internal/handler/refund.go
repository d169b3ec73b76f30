package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
	"github.com/xenking/edu-backoffice/internal/domain/refund"
	"github.com/xenking/edu-backoffice/internal/gateway"
)

type refundResponse struct {
	PaymentID          int64  `json:"paymentId"`
	OrderID            int64  `json:"orderId"`
	CanceledAmount     int64  `json:"canceledAmount"`
	RefundableAmount   int64  `json:"refundableAmount"`
	PaymentStatus      string `json:"paymentStatus"`
	PaymentStatusLabel string `json:"paymentStatusLabel"`
	OrderStatus        string `json:"orderStatus"`
	EnrollmentsDeleted int64  `json:"enrollmentsDeleted"`
	Message            string `json:"message"`
}

func newRefundResponse(res *refund.Result) refundResponse {
	return refundResponse{
		PaymentID:          res.PaymentID,
		OrderID:            res.OrderID,
		CanceledAmount:     res.CanceledAmount,
		RefundableAmount:   res.RefundableAmount,
		PaymentStatus:      string(res.PaymentStatus),
		PaymentStatusLabel: res.PaymentStatus.Label(),
		OrderStatus:        string(res.OrderStatus),
		EnrollmentsDeleted: res.EnrollmentsDeleted,
		Message:            res.Message,
	}
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request, svc *Services) {
	var req refund.Request
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "recordId":
			req.RecordID, err = d.Int64()
		case "cancelReason":
			req.Reason, err = d.Str()
		case "cancelAmount":
			req.Amount, err = optInt64(d)
		case "deleteEnrollment":
			req.DeleteEnrollment, err = d.Bool()
		case "refundReceiveAccount":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.RefundAccount, err = decodeAccount(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.RecordID <= 0 {
		writeError(w, r, payment.Invalid("recordId is required"))
		return
	}

	res, err := svc.Refunds.Refund(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRefundResponse(res))
}

func decodeAccount(d *jx.Decoder) (*gateway.BankAccount, error) {
	var a gateway.BankAccount
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "bank":
			a.Bank, err = d.Str()
		case "accountNumber":
			a.AccountNumber, err = d.Str()
		case "holderName":
			a.HolderName, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (h *Handler) manualRefund(w http.ResponseWriter, r *http.Request, svc *Services) {
	var req refund.ManualRequest
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "paymentId":
			req.PaymentID, err = d.Int64()
		case "cancelReason":
			req.Reason, err = d.Str()
		case "cancelAmount":
			req.Amount, err = optInt64(d)
		case "deleteEnrollment":
			req.DeleteEnrollment, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.PaymentID <= 0 {
		writeError(w, r, payment.Invalid("paymentId is required"))
		return
	}

	res, err := svc.Refunds.ManualRefund(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRefundResponse(res))
}
