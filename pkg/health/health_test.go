package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type response struct {
	Status string
	Checks map[string]string
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response {
	t.Helper()
	var r response
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			r.Status = s
			return err
		case "checks":
			r.Checks = map[string]string{}
			return d.Obj(func(d *jx.Decoder, name string) error {
				s, err := d.Str()
				r.Checks[name] = s
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return r
}

func fail(msg string) Check {
	return func(context.Context) error { return errors.New(msg) }
}

func ok(context.Context) error { return nil }

func probeNamed(h *Health, name string) *probe {
	for _, p := range h.probes {
		if p.name == name {
			return p
		}
	}
	return nil
}

func serve(handler http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestLivez(t *testing.T) {
	h := New()
	h.Register(Liveness, "goroutines", time.Second, GoroutineLimit(1_000_000))

	w := serve(h.Livez)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w).Status)
}

func TestReadyz_ThresholdAndRecovery(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Register(Readiness, "postgres/ivy", time.Second, fail("connection refused"))
	h.Register(Readiness, "redis", time.Second, ok)

	ctx := context.Background()
	p := probeNamed(h, "postgres/ivy")
	p.run(ctx)
	p.run(ctx)
	assert.True(t, h.Ready(), "two failures stay below the threshold")

	p.run(ctx)
	assert.False(t, h.Ready())

	w := serve(h.Readyz)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, map[string]string{"postgres/ivy": "connection refused"}, body.Checks)

	p.check = ok
	p.run(ctx)
	assert.True(t, h.Ready())
	assert.Equal(t, http.StatusOK, serve(h.Readyz).Code)
}

func TestReadyz_ManualSwitch(t *testing.T) {
	h := New()
	w := serve(h.Readyz)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decode(t, w).Checks, "_readiness")

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(h.Readyz).Code)

	h.SetReady(false)
	assert.False(t, h.Ready())
}

func TestLivenessIgnoresReadinessProbes(t *testing.T) {
	h := New()
	h.Register(Readiness, "redis", time.Second, fail("down"))
	p := probeNamed(h, "redis")
	for range failAfter {
		p.run(context.Background())
	}
	assert.Equal(t, http.StatusOK, serve(h.Livez).Code)
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.Register(Readiness, "counter", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	h.Stop()

	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
	h.Stop()
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPing(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, Ping(pinger{})(ctx))
	assert.EqualError(t, Ping(pinger{err: errors.New("ivy down")})(ctx), "ivy down")
}
