// Package gateway is a client for the payment processor's REST API.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.tosspayments.com"

const maxBody = 1 << 20

// Options configures a Client.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	HTTPClient     *http.Client
	TracerProvider trace.TracerProvider
}

func (o *Options) setDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{
			Timeout: o.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(o.TracerProvider),
			),
		}
	}
}

// Client calls the gateway with one merchant secret. Use WithSecret to derive
// a client for another tenant.
type Client struct {
	http    *http.Client
	baseURL string
	auth    string
	tracer  trace.Tracer
}

// New creates a Client without credentials.
func New(opts Options) *Client {
	opts.setDefaults()
	return &Client{
		http:    opts.HTTPClient,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		tracer:  opts.TracerProvider.Tracer("github.com/xenking/edu-backoffice/internal/gateway"),
	}
}

// WithSecret returns a copy of c that authenticates with the given secret
// key.
func (c *Client) WithSecret(secret string) *Client {
	cp := *c
	cp.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(secret+":"))
	return &cp
}

// GetPayment fetches the current state of a payment.
func (c *Client) GetPayment(ctx context.Context, paymentKey string) (*Payment, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.GetPayment",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("payment.key", paymentKey)),
	)
	defer span.End()

	p, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentKey), nil, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return p, err
}

// CancelPayment cancels all or part of a payment and returns the updated
// payment object.
func (c *Client) CancelPayment(ctx context.Context, paymentKey string, req CancelRequest) (*Payment, error) {
	attrs := []attribute.KeyValue{attribute.String("payment.key", paymentKey)}
	if req.Amount != nil {
		attrs = append(attrs, attribute.Int64("cancel.amount", *req.Amount))
	}
	ctx, span := c.tracer.Start(ctx, "gateway.CancelPayment",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	p, err := c.do(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(paymentKey)+"/cancel",
		req.encode(), uuid.NewString())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return p, err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotencyKey string) (*Payment, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &payment.GatewayError{Message: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &payment.GatewayError{Status: resp.StatusCode, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(data)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, &payment.GatewayError{
			Status:  resp.StatusCode,
			Code:    apiErr.Code,
			Message: apiErr.Message,
		}
	}

	p, err := DecodePayment(data)
	if err != nil {
		return nil, &payment.GatewayError{Status: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return p, nil
}
