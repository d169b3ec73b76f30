package gateway

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
)

const canceledPaymentJSON = `{
	"paymentKey": "pk_1",
	"orderId": "order-1",
	"orderName": "Go 입문",
	"status": "PARTIAL_CANCELED",
	"method": "카드",
	"mId": "tvivarepublica",
	"totalAmount": 10000,
	"balanceAmount": 7000,
	"taxFreeAmount": 0,
	"approvedAt": "2024-01-01T10:00:00+09:00",
	"receipt": {"url": "https://receipt.example/pk_1"},
	"easyPay": null,
	"cancels": [
		{
			"transactionKey": "tx_1",
			"cancelAmount": 3000,
			"refundableAmount": 7000,
			"taxFreeAmount": 0,
			"cancelReason": "단순 변심",
			"canceledAt": "2024-01-02T10:00:00+09:00"
		}
	]
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, HTTPClient: srv.Client()}).WithSecret("test_sk")
}

func TestClient_GetPayment(t *testing.T) {
	var gotAuth, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_, _ = io.WriteString(w, canceledPaymentJSON)
	})

	p, err := c.GetPayment(context.Background(), "pk_1")
	require.NoError(t, err)

	assert.Equal(t, "/v1/payments/pk_1", gotPath)
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("test_sk:")), gotAuth)

	assert.Equal(t, "pk_1", p.PaymentKey)
	assert.Equal(t, "PARTIAL_CANCELED", p.Status)
	assert.Equal(t, "카드", p.Method)
	assert.Equal(t, int64(10000), p.TotalAmount)
	assert.Equal(t, int64(7000), p.BalanceAmount)
	assert.Equal(t, "https://receipt.example/pk_1", p.ReceiptURL)
	require.Len(t, p.Cancels, 1)
	assert.Equal(t, int64(3000), p.Cancels[0].CancelAmount)
	require.NotNil(t, p.Cancels[0].CanceledAt)
	assert.Equal(t, int64(7000), p.Refundable())
	assert.Equal(t, int64(3000), p.CanceledTotal())
}

func TestClient_CancelPayment(t *testing.T) {
	var body []byte
	var idem string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments/pk_1/cancel", r.URL.Path)
		idem = r.Header.Get("Idempotency-Key")
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, canceledPaymentJSON)
	})

	amount := int64(3000)
	p, err := c.CancelPayment(context.Background(), "pk_1", CancelRequest{
		Reason: "단순 변심",
		Amount: &amount,
		RefundAccount: &BankAccount{
			Bank:          "88",
			AccountNumber: "110-123-456789",
			HolderName:    "홍길동",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7000), p.Refundable())
	assert.NotEmpty(t, idem)

	got := map[string]string{}
	var gotAmount int64
	err = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "cancelAmount":
			v, err := d.Int64()
			gotAmount = v
			return err
		case "refundReceiveAccount":
			return d.Obj(func(d *jx.Decoder, key string) error {
				v, err := d.Str()
				got["account."+key] = v
				return err
			})
		default:
			v, err := d.Str()
			got[key] = v
			return err
		}
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), gotAmount)
	assert.Equal(t, "단순 변심", got["cancelReason"])
	assert.Equal(t, "88", got["account.bank"])
	assert.Equal(t, "110-123-456789", got["account.accountNumber"])
	assert.Equal(t, "홍길동", got["account.holderName"])
}

func TestClient_CancelPayment_FullOmitsAmount(t *testing.T) {
	var body []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, canceledPaymentJSON)
	})

	_, err := c.CancelPayment(context.Background(), "pk_1", CancelRequest{Reason: "r"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cancelReason":"r"}`, string(body))
}

func TestClient_ErrorResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":"ALREADY_CANCELED_PAYMENT","message":"이미 취소된 결제 입니다."}`)
	})

	_, err := c.CancelPayment(context.Background(), "pk_1", CancelRequest{Reason: "r"})
	require.Error(t, err)
	require.ErrorIs(t, err, payment.ErrGateway)

	var gwErr *payment.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusBadRequest, gwErr.Status)
	assert.Equal(t, "ALREADY_CANCELED_PAYMENT", gwErr.Code)
	assert.Equal(t, "이미 취소된 결제 입니다.", gwErr.Message)
}

func TestClient_ErrorWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.GetPayment(context.Background(), "pk_1")
	var gwErr *payment.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusText(http.StatusBadGateway), gwErr.Message)
}

func TestClient_MalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"DONE"}`)
	})

	_, err := c.GetPayment(context.Background(), "pk_1")
	require.ErrorIs(t, err, payment.ErrGateway)
}

func TestDecodePayment_NullCancels(t *testing.T) {
	p, err := DecodePayment([]byte(`{"paymentKey":"pk","status":"DONE","balanceAmount":5000,"cancels":null,"receipt":null}`))
	require.NoError(t, err)
	assert.Nil(t, p.LastCancel())
	assert.Equal(t, int64(5000), p.Refundable())
}
