package handler

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/edu-backoffice/internal/domain/auth"
	"github.com/xenking/edu-backoffice/internal/domain/payment"
	"github.com/xenking/edu-backoffice/internal/domain/reconcile"
	"github.com/xenking/edu-backoffice/internal/domain/refund"
	"github.com/xenking/edu-backoffice/internal/domain/report"
	"github.com/xenking/edu-backoffice/internal/domain/stats"
	"github.com/xenking/edu-backoffice/internal/tenant"
	"github.com/xenking/edu-backoffice/pkg/httpmiddleware"
)

type mockAuth struct{}

func (mockAuth) Authenticate(_ context.Context, key string) (*auth.Principal, error) {
	switch key {
	case "admin-key":
		return &auth.Principal{KeyID: "k1", Scopes: []string{auth.ScopeAdmin}}, nil
	case "read-key":
		return &auth.Principal{KeyID: "k2", Scopes: []string{"read"}}, nil
	default:
		return nil, payment.ErrUnauthorized
	}
}

type mockReconciler struct {
	got reconcile.BatchRequest
	err error
}

func (m *mockReconciler) RunBatch(_ context.Context, req reconcile.BatchRequest) (*reconcile.BatchResult, error) {
	m.got = req
	if m.err != nil {
		return nil, m.err
	}
	next := int64(51)
	return &reconcile.BatchResult{
		Counts:     reconcile.Counts{Processed: 2, Updated: 1, Skipped: 1},
		DryRun:     req.DryRun,
		NextCursor: &next,
	}, nil
}

type mockSyncer struct{ got reconcile.SyncRequest }

func (m *mockSyncer) SyncBatch(_ context.Context, req reconcile.SyncRequest) (*reconcile.SyncResult, error) {
	m.got = req
	return &reconcile.SyncResult{DryRun: req.DryRun}, nil
}

type mockRefunder struct {
	got    refund.Request
	manual refund.ManualRequest
	err    error
}

func (m *mockRefunder) Refund(_ context.Context, req refund.Request) (*refund.Result, error) {
	m.got = req
	if m.err != nil {
		return nil, m.err
	}
	return &refund.Result{
		PaymentID: 200, OrderID: 100, CanceledAmount: 3000, RefundableAmount: 7000,
		PaymentStatus: payment.StatusPartialCanceled, OrderStatus: payment.OrderPartialRefunded,
		Message: "부분 환불이 완료되었습니다.",
	}, nil
}

func (m *mockRefunder) ManualRefund(_ context.Context, req refund.ManualRequest) (*refund.Result, error) {
	m.manual = req
	return &refund.Result{PaymentID: req.PaymentID, PaymentStatus: payment.StatusCanceled, Message: "환불이 완료되었습니다."}, nil
}

type mockSales struct{}

func (mockSales) CourseSales(_ context.Context, id int64) (*stats.CourseSales, error) {
	if id == 404 {
		return nil, payment.NotFound("course", id)
	}
	return &stats.CourseSales{CourseID: id, Payments: 1, Paid: 5000, Net: 5000}, nil
}

type mockExporter struct{ got report.Filter }

func (m *mockExporter) Export(_ context.Context, w io.Writer, f report.Filter) (int, error) {
	m.got = f
	_, err := io.WriteString(w, "\ufeffheader\nrow\n")
	return 1, err
}

type fixture struct {
	srv        http.Handler
	reconciler *mockReconciler
	syncer     *mockSyncer
	refunder   *mockRefunder
	exporter   *mockExporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reconciler: &mockReconciler{},
		syncer:     &mockSyncer{},
		refunder:   &mockRefunder{},
		exporter:   &mockExporter{},
	}
	reg := tenant.NewRegistry[*Services]()
	require.NoError(t, reg.Add(tenant.Ivy, &Services{
		Reconciler:    f.reconciler,
		Syncer:        f.syncer,
		Refunds:       f.refunder,
		Sales:         mockSales{},
		Reports:       f.exporter,
		DryRunDefault: true,
	}))

	h := New(reg, mockAuth{})
	h.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	mux := http.NewServeMux()
	h.Register(mux)
	f.srv = mux
	return f
}

func (f *fixture) do(method, target, key, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if key != "" {
		req.Header.Set(HeaderAPIKey, key)
	}
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	return w
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

func TestAuth(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/ivy/reconcile", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, msgUnauthorized, decodeMap(t, w)["message"])

	w = f.do(http.MethodPost, "/api/ivy/reconcile", "read-key", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/api/acme/reconcile", "admin-key", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/api/cojooboo/reconcile", "admin-key", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "known but unconfigured tenant")
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/ivy/reconcile?limit=20&cursor=30&courseId=7", "admin-key", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, f.reconciler.got.Limit)
	assert.Equal(t, int64(30), *f.reconciler.got.Cursor)
	assert.Equal(t, int64(7), *f.reconciler.got.CourseID)
	assert.True(t, f.reconciler.got.DryRun, "tenant default applies")

	body := decodeMap(t, w)
	assert.Equal(t, true, body["dryRun"])
	assert.EqualValues(t, 2, body["processedCount"])
	assert.EqualValues(t, 51, body["nextCursor"])

	for value, want := range map[string]bool{"false": false, "0": false, "true": true, "no": true, "": true} {
		f.do(http.MethodPost, "/api/ivy/reconcile?dryRun="+value, "admin-key", "")
		assert.Equal(t, want, f.reconciler.got.DryRun, value)
	}

	w = f.do(http.MethodPost, "/api/ivy/reconcile?limit=abc", "admin-key", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.reconciler.err = errors.New("db down")
	w = f.do(http.MethodPost, "/api/ivy/reconcile", "admin-key", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestGatewaySync(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/ivy/gateway-sync?dryRun=false&limit=5", "admin-key", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.syncer.got.DryRun)
	assert.Equal(t, 5, f.syncer.got.Limit)
	assert.Equal(t, false, decodeMap(t, w)["dryRun"])
}

func TestRefund(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/ivy/refunds", "admin-key", `{
		"recordId": 1,
		"cancelReason": "단순 변심",
		"cancelAmount": 3000,
		"deleteEnrollment": true,
		"refundReceiveAccount": {"bank": "88", "accountNumber": "110123", "holderName": "김철수"},
		"extra": [1, 2]
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := f.refunder.got
	assert.Equal(t, int64(1), got.RecordID)
	assert.Equal(t, "단순 변심", got.Reason)
	assert.Equal(t, int64(3000), *got.Amount)
	assert.True(t, got.DeleteEnrollment)
	assert.Equal(t, "김철수", got.RefundAccount.HolderName)

	body := decodeMap(t, w)
	assert.Equal(t, "부분 환불이 완료되었습니다.", body["message"])
	assert.Equal(t, "PARTIAL_CANCELED", body["paymentStatus"])
	assert.Equal(t, "부분환불", body["paymentStatusLabel"])
	assert.EqualValues(t, 7000, body["refundableAmount"])

	w = f.do(http.MethodPost, "/api/ivy/refunds", "admin-key", `{"recordId": 1, "cancelReason": "x", "cancelAmount": null}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, f.refunder.got.Amount)
}

func TestRefund_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"MalformedJSON", `{"recordId":`, nil, http.StatusBadRequest},
		{"MissingRecord", `{"cancelReason": "x"}`, nil, http.StatusBadRequest},
		{"Validation", `{"recordId": 1}`, payment.Invalid("cancel reason is required"), http.StatusBadRequest},
		{"InvalidState", `{"recordId": 1}`, errors.Wrap(payment.ErrInvalidState, "free"), http.StatusConflict},
		{"NotFound", `{"recordId": 1}`, payment.NotFound("gateway record", 1), http.StatusNotFound},
		{"Gateway", `{"recordId": 1}`, &payment.GatewayError{Status: 400, Code: "ALREADY_CANCELED_PAYMENT", Message: "이미 취소된 결제입니다."}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.refunder.err = tt.err
			w := f.do(http.MethodPost, "/api/ivy/refunds", "admin-key", tt.body)
			assert.Equal(t, tt.status, w.Code)
			body := decodeMap(t, w)
			assert.EqualValues(t, tt.status, body["code"])
			assert.NotEmpty(t, body["message"])
		})
	}

	f.refunder.err = &payment.GatewayError{Message: "이미 취소된 결제입니다."}
	w := f.do(http.MethodPost, "/api/ivy/refunds", "admin-key", `{"recordId": 1}`)
	assert.Contains(t, decodeMap(t, w)["message"], "이미 취소된 결제입니다.")
}

func TestManualRefund(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/ivy/refunds/manual", "admin-key", `{"paymentId": 9, "deleteEnrollment": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(9), f.refunder.manual.PaymentID)
	assert.True(t, f.refunder.manual.DeleteEnrollment)
	assert.Nil(t, f.refunder.manual.Amount)
	assert.Equal(t, "환불이 완료되었습니다.", decodeMap(t, w)["message"])
}

func TestCourseSales(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/ivy/courses/7/sales", "admin-key", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeMap(t, w)
	assert.EqualValues(t, 7, body["courseId"])
	assert.EqualValues(t, 5000, body["net"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/ivy/courses/404/sales", "admin-key", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/ivy/courses/x/sales", "admin-key", "").Code)
}

func TestExport(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/ivy/payments/export?courseId=3&from=2024-03-01&to=2024-03-31", "admin-key", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "payments-ivy-20240301.csv")
	assert.True(t, strings.HasPrefix(w.Body.String(), "\ufeff"))

	got := f.exporter.got
	assert.Equal(t, int64(3), *got.CourseID)
	assert.True(t, got.From.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, report.KST)))
	assert.True(t, got.To.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, report.KST)), "end date is inclusive")

	w = f.do(http.MethodGet, "/api/ivy/payments/export?to=2024-01-01&from=2024-02-01", "admin-key", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(http.MethodGet, "/api/ivy/payments/export?from=yesterday", "admin-key", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExport_Gzip(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/ivy/payments/export?gzip=1", "admin-key", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv.gz")

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "\ufeffheader\nrow\n", string(data))
}

type failingSource struct{ err error }

func (s failingSource) EachPaymentRow(context.Context, report.Filter, func(report.Row) error) error {
	return s.err
}

func TestExport_SourceFailure(t *testing.T) {
	for _, target := range []string{"/api/ivy/payments/export", "/api/ivy/payments/export?gzip=1"} {
		t.Run(target, func(t *testing.T) {
			reg := tenant.NewRegistry[*Services]()
			require.NoError(t, reg.Add(tenant.Ivy, &Services{
				Reports: report.NewService(failingSource{err: errors.New("connection refused")}, false),
			}))
			mux := http.NewServeMux()
			New(reg, mockAuth{}).Register(mux)

			req := httptest.NewRequest(http.MethodGet, target, nil)
			req.Header.Set(HeaderAPIKey, "admin-key")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			require.Equal(t, http.StatusInternalServerError, w.Code)
			assert.Empty(t, w.Header().Get("Content-Disposition"))
			assert.Equal(t, httpmiddleware.MessageInternal, decodeMap(t, w)["message"])
		})
	}
}

func TestAllocate(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/allocate", "admin-key", `{
		"total": 10000,
		"items": [{"key": "COURSE:1", "price": 6000}, {"key": "EBOOK:1", "price": "4000.00"}]
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp allocateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(10000), resp.Sum)
	assert.Equal(t, []allocationLine{{Key: "COURSE:1", Amount: 6000}, {Key: "EBOOK:1", Amount: 4000}}, resp.Lines)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/allocate", "admin-key", `{"total": 5}`).Code)

	w = f.do(http.MethodPost, "/api/allocate", "admin-key", `{"total": -100, "items": [{"key": "COURSE:1", "price": 6000}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeMap(t, w)["message"], "total must not be negative")
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/allocate", "", `{}`).Code)
}
