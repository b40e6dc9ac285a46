package dispatch

import (
	"errors"

	"github.com/edgegate/gateway-core/internal/gwerrors"
)

// ErrorResponse is the shape every Dispatch failure renders to, per
// spec §7: a stable short code plus a human sentence, independent of
// the internal message (which may name internal identifiers not meant
// for remote callers).
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ToErrorResponse translates any error into spec §7's stable envelope.
// Errors not produced by gwerrors.New are treated as internal.
func ToErrorResponse(err error) ErrorResponse {
	var gerr *gwerrors.Error
	if !errors.As(err, &gerr) {
		return ErrorResponse{Code: gwerrors.KindInternal.ShortCode(), Message: gwerrors.KindInternal.Sentence()}
	}
	return ErrorResponse{
		Code:    gerr.Kind.ShortCode(),
		Message: gerr.Kind.Sentence(),
		Data:    gerr.Data,
	}
}
