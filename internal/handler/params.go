package handler

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
	"github.com/xenking/edu-backoffice/internal/domain/report"
)

const maxBody = 64 << 10

// decodeBody walks the top-level JSON object of the request body.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		return payment.Invalid("read body: %v", err)
	}
	if err := jx.DecodeBytes(data).Obj(fn); err != nil {
		return payment.Invalid("malformed JSON: %v", err)
	}
	return nil
}

func optInt64(d *jx.Decoder) (*int64, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Int64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// queryInt64 parses an optional integer query parameter.
func queryInt64(q url.Values, name string) (*int64, error) {
	s := q.Get(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, payment.Invalid("%s must be an integer", name)
	}
	return &v, nil
}

func queryLimit(q url.Values) (int, error) {
	v, err := queryInt64(q, "limit")
	if err != nil || v == nil {
		return 0, err
	}
	return int(*v), nil
}

// queryDryRun treats only "0" and "false" as disabling the dry run.
func queryDryRun(q url.Values, def bool) bool {
	if !q.Has("dryRun") {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(q.Get("dryRun"))) {
	case "0", "false":
		return false
	default:
		return true
	}
}

// queryBool is true for "1" and "true".
func queryBool(q url.Values, name string) bool {
	switch strings.ToLower(q.Get(name)) {
	case "1", "true":
		return true
	}
	return false
}

// parseDay accepts YYYY-MM-DD in KST or RFC 3339. endOfDay moves a plain date
// to the start of the following day so the range end is exclusive.
func parseDay(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, report.KST); err == nil {
		if endOfDay {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(payment.ErrValidation, "bad date %q", s)
	}
	return t, nil
}
