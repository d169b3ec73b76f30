// Package reconcile brings local orders and payments in line with the
// gateway's view of each transaction.
package reconcile

import (
	"strings"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
)

// Desired is the outcome of comparing a gateway record against the local
// order and payment.
type Desired struct {
	ShouldUpdate bool
	OrderPatch   payment.OrderPatch
	PaymentPatch payment.PaymentPatch
}

// MapStatus translates a gateway status string into the local payment and
// order status pair. Matching is case-insensitive. The last result is false
// when the status is unknown and carries no cancellation, in which case the
// status fields must be left untouched.
//
// fullCancel is consulted only when hasCancel is set.
func MapStatus(gatewayStatus string, hasCancel, fullCancel bool) (payment.Status, payment.OrderStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(gatewayStatus)) {
	case "REFUNDED":
		return payment.StatusCanceled, payment.OrderRefunded, true
	case "DONE", "COMPLETED", "PAID", "SUCCESS":
		if !hasCancel {
			return payment.StatusDone, payment.OrderPaid, true
		}
		return cancelState(fullCancel)
	case "FAILED":
		return payment.StatusFailed, payment.OrderFailed, true
	case "WAITING_FOR_DEPOSIT":
		return payment.StatusWaitingForDeposit, payment.OrderPending, true
	case "READY":
		return payment.StatusReady, payment.OrderPending, true
	case "CANCELED", "CANCELLED":
		return payment.StatusCanceled, payment.OrderCanceled, true
	}
	if hasCancel {
		return cancelState(fullCancel)
	}
	return "", "", false
}

func cancelState(full bool) (payment.Status, payment.OrderStatus, bool) {
	if full {
		return payment.StatusCanceled, payment.OrderRefunded, true
	}
	return payment.StatusPartialCanceled, payment.OrderPartialRefunded, true
}

// ComputeDesiredState returns the patches needed to make order and pay agree
// with rec. A field is only patched when its value differs, so applying the
// result and computing again yields ShouldUpdate == false.
func ComputeDesiredState(rec *payment.GatewayRecord, order *payment.Order, pay *payment.Payment) Desired {
	var d Desired
	d.PaymentPatch = metadataPatch(rec, pay)

	hasCancel := rec.HasCancel()
	full := rec.CancelAmount >= rec.FinalPrice || rec.CanceledAt != nil
	if ps, os, ok := MapStatus(rec.Status, hasCancel, full); ok {
		if pay.Status != ps {
			d.PaymentPatch.Status = &ps
		}
		if order.Status != os {
			d.OrderPatch.Status = &os
		}
	}

	d.ShouldUpdate = !d.PaymentPatch.IsEmpty() || !d.OrderPatch.IsEmpty()
	return d
}

// metadataPatch diffs the descriptive fields. Values absent from the mirror
// never clear local data.
func metadataPatch(rec *payment.GatewayRecord, pay *payment.Payment) payment.PaymentPatch {
	var p payment.PaymentPatch

	if rec.PaymentKey != "" && rec.PaymentKey != pay.PaymentKey {
		p.PaymentKey = ptr(rec.PaymentKey)
	}
	if m, ok := payment.ParseMethod(rec.Method); ok && m != pay.Method {
		p.Method = &m
	}
	if rec.TaxFree != pay.TaxFree {
		p.TaxFree = ptr(rec.TaxFree)
	}
	if rec.CancelAmount > 0 || pay.CancelAmount != nil {
		if pay.CancelAmount == nil || *pay.CancelAmount != rec.CancelAmount {
			p.CancelAmount = ptr(rec.CancelAmount)
		}
	}
	if rec.RefundableAmount != nil {
		if pay.RefundableAmount == nil || *pay.RefundableAmount != *rec.RefundableAmount {
			p.RefundableAmount = ptr(*rec.RefundableAmount)
		}
	}
	if rec.CanceledAt != nil {
		if pay.CanceledAt == nil || !pay.CanceledAt.Equal(*rec.CanceledAt) {
			p.CanceledAt = ptr(*rec.CanceledAt)
		}
	}
	if rec.ReceiptURL != "" && rec.ReceiptURL != pay.ReceiptURL {
		p.ReceiptURL = ptr(rec.ReceiptURL)
	}
	if rec.MID != "" && rec.MID != pay.MID {
		p.MID = ptr(rec.MID)
	}
	if rec.SecretKeyRef != "" && rec.SecretKeyRef != pay.SecretKeyRef {
		p.SecretKeyRef = ptr(rec.SecretKeyRef)
	}
	return p
}

// changedFields names the payment columns a patch touches, for previews.
func changedFields(p payment.PaymentPatch, o payment.OrderPatch) []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(p.PaymentKey != nil, "paymentKey")
	add(p.Method != nil, "paymentMethod")
	add(p.TaxFree != nil, "taxFree")
	add(p.CancelAmount != nil, "cancelAmount")
	add(p.RefundableAmount != nil, "refundableAmount")
	add(p.CanceledAt != nil, "canceledAt")
	add(p.ReceiptURL != nil, "receiptUrl")
	add(p.MID != nil, "mId")
	add(p.SecretKeyRef != nil, "secretKey")
	add(p.Status != nil, "paymentStatus")
	add(o.Status != nil, "orderStatus")
	return out
}

func ptr[T any](v T) *T { return &v }
