package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
	"github.com/xenking/edu-backoffice/pkg/httpmiddleware"
)

const (
	msgUnauthorized = "인증되지 않은 요청입니다."
	msgNotFound     = "요청한 정보를 찾을 수 없습니다."
	msgInvalidState = "현재 상태에서는 처리할 수 없습니다."
	msgValidation   = "요청 값이 올바르지 않습니다."
	msgGateway      = "결제사 요청에 실패했습니다."
)

// statusOf maps the domain error taxonomy to an HTTP status and client
// message. Validation and state errors carry their detail.
func statusOf(err error) (int, string) {
	var gwErr *payment.GatewayError
	switch {
	case errors.Is(err, payment.ErrUnauthorized):
		return http.StatusUnauthorized, msgUnauthorized
	case errors.Is(err, payment.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.Is(err, payment.ErrInvalidState):
		return http.StatusConflict, msgInvalidState + " (" + err.Error() + ")"
	case errors.Is(err, payment.ErrValidation):
		return http.StatusBadRequest, msgValidation + " (" + err.Error() + ")"
	case errors.As(err, &gwErr):
		if gwErr.Message != "" {
			return http.StatusBadGateway, msgGateway + " " + gwErr.Message
		}
		return http.StatusBadGateway, msgGateway
	default:
		return http.StatusInternalServerError, httpmiddleware.MessageInternal
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	httpmiddleware.WriteError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
