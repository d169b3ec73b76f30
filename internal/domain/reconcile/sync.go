package reconcile

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
	"github.com/xenking/edu-backoffice/internal/gateway"
)

// PaymentFetcher reads a payment from the gateway.
type PaymentFetcher interface {
	GetPayment(ctx context.Context, paymentKey string) (*gateway.Payment, error)
}

// SyncRequest selects a page of mirror records to refresh.
type SyncRequest struct {
	Limit  int
	Cursor *int64
	DryRun bool
}

// SyncUpdate describes one refreshed mirror record.
type SyncUpdate struct {
	RecordID     int64    `json:"recordId"`
	PaymentKey   string   `json:"paymentKey"`
	BeforeStatus string   `json:"beforeStatus"`
	AfterStatus  string   `json:"afterStatus"`
	Fields       []string `json:"fields"`
	Applied      bool     `json:"applied"`
}

// SyncResult is the outcome of one sync page.
type SyncResult struct {
	Counts
	DryRun     bool          `json:"dryRun"`
	Updated    []SyncUpdate  `json:"updated"`
	Skipped    []Skip        `json:"skipped"`
	Errors     []RecordError `json:"errors"`
	NextCursor *int64        `json:"nextCursor"`
}

// Syncer refreshes the gateway mirror table from the gateway's read API.
type Syncer struct {
	store      payment.Store
	gw         PaymentFetcher
	freePrefix string
	records    metric.Int64Counter
}

// NewSyncer creates a Syncer. Records whose gateway order id starts with
// freePrefix never went through the gateway and are skipped.
func NewSyncer(store payment.Store, gw PaymentFetcher, freePrefix string, mp metric.MeterProvider) (*Syncer, error) {
	records, err := mp.Meter(meterName).Int64Counter("backoffice.gateway_sync.records",
		metric.WithDescription("Mirror records processed by gateway sync, by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create counter")
	}
	return &Syncer{store: store, gw: gw, freePrefix: freePrefix, records: records}, nil
}

// SyncBatch refreshes one page of mirror records in place.
func (s *Syncer) SyncBatch(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	limit := ClampLimit(req.Limit)
	page, next, err := fetchPage(ctx, s.store, limit, req.Cursor, nil)
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx)
	res := &SyncResult{
		DryRun:     req.DryRun,
		Updated:    []SyncUpdate{},
		Skipped:    []Skip{},
		Errors:     []RecordError{},
		NextCursor: next,
	}
	for i := range page {
		rec := &page[i]
		res.Counts.Processed++

		outcome, err := s.syncOne(ctx, rec, req.DryRun, res)
		if err != nil {
			lg.Warn("Gateway sync record failed",
				zap.Int64("record_id", rec.ID),
				zap.String("payment_key", rec.PaymentKey),
				zap.Error(err),
			)
			res.Counts.Errors++
			res.Errors = append(res.Errors, RecordError{
				RecordID:   rec.ID,
				PaymentKey: rec.PaymentKey,
				Error:      err.Error(),
			})
			outcome = "error"
		}
		s.records.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.Bool("dry_run", req.DryRun),
		))
	}
	return res, nil
}

func (s *Syncer) syncOne(ctx context.Context, rec *payment.GatewayRecord, dryRun bool, res *SyncResult) (string, error) {
	skip := func(reason string) (string, error) {
		res.Counts.Skipped++
		res.Skipped = append(res.Skipped, Skip{RecordID: rec.ID, PaymentKey: rec.PaymentKey, Reason: reason})
		return "skipped", nil
	}

	if rec.PaymentKey == "" {
		return skip(ReasonNoPaymentKey)
	}
	if s.freePrefix != "" && strings.HasPrefix(rec.GatewayOrderID, s.freePrefix) {
		return skip(ReasonFreeOrder)
	}

	gp, err := s.gw.GetPayment(ctx, rec.PaymentKey)
	if err != nil {
		return "", errors.Wrap(err, "fetch payment")
	}

	patch := mirrorPatch(rec, gp)
	if patch.IsEmpty() {
		return skip(ReasonNoChanges)
	}

	u := SyncUpdate{
		RecordID:     rec.ID,
		PaymentKey:   rec.PaymentKey,
		BeforeStatus: rec.Status,
		AfterStatus:  rec.Status,
		Fields:       mirrorFields(patch),
	}
	if patch.Status != nil {
		u.AfterStatus = *patch.Status
	}
	if !dryRun {
		if err := s.store.WithTx(ctx, func(w payment.Writer) error {
			return w.UpdateGatewayRecord(ctx, rec.ID, patch)
		}); err != nil {
			return "", errors.Wrap(err, "update gateway record")
		}
		u.Applied = true
	}
	res.Counts.Updated++
	res.Updated = append(res.Updated, u)
	return "updated", nil
}

// mirrorPatch diffs the mirror record against the live gateway payment.
func mirrorPatch(rec *payment.GatewayRecord, gp *gateway.Payment) payment.GatewayRecordPatch {
	var p payment.GatewayRecordPatch
	if gp.Status != "" && gp.Status != rec.Status {
		p.Status = ptr(gp.Status)
	}
	if gp.Method != "" && gp.Method != rec.Method {
		p.Method = ptr(gp.Method)
	}
	if gp.TotalAmount > 0 && gp.TotalAmount != rec.FinalPrice {
		p.FinalPrice = ptr(gp.TotalAmount)
	}
	if c := gp.CanceledTotal(); c != rec.CancelAmount {
		p.CancelAmount = ptr(c)
	}
	if r := gp.Refundable(); rec.RefundableAmount == nil || *rec.RefundableAmount != r {
		p.RefundableAmount = ptr(r)
	}
	if last := gp.LastCancel(); last != nil {
		if last.CanceledAt != nil && (rec.CanceledAt == nil || !rec.CanceledAt.Equal(*last.CanceledAt)) {
			p.CanceledAt = ptr(*last.CanceledAt)
		}
		if last.CancelReason != "" && last.CancelReason != rec.CancelReason {
			p.CancelReason = ptr(last.CancelReason)
		}
	}
	if gp.ReceiptURL != "" && gp.ReceiptURL != rec.ReceiptURL {
		p.ReceiptURL = ptr(gp.ReceiptURL)
	}
	return p
}

func mirrorFields(p payment.GatewayRecordPatch) []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(p.Status != nil, "paymentStatus")
	add(p.Method != nil, "paymentMethod")
	add(p.FinalPrice != nil, "finalPrice")
	add(p.CancelAmount != nil, "cancelAmount")
	add(p.RefundableAmount != nil, "refundableAmount")
	add(p.CanceledAt != nil, "canceledAt")
	add(p.CancelReason != nil, "cancelReason")
	add(p.ReceiptURL != nil, "receiptUrl")
	return out
}
