// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/automata-backoffice/backoffice/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
)

// MessageSource renders the user-facing text registered under a code.
type MessageSource interface {
	Format(key string, args ...any) (string, bool)
}

// ErrorRenderer maps domain errors to RFC7807 responses.
type ErrorRenderer struct {
	logger   *slog.Logger
	messages MessageSource
}

// NewErrorRenderer constructs an ErrorRenderer. messages may be nil.
func NewErrorRenderer(logger *slog.Logger, messages MessageSource) *ErrorRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorRenderer{logger: logger, messages: messages}
}

// Respond writes err as a problem document.
func (e *ErrorRenderer) Respond(w http.ResponseWriter, r *http.Request, err error) {
	if e == nil {
		RespondError(w, err)
		return
	}
	if domainErr, ok := shared.AsError(err); ok {
		detail := domainErr.Error()
		if e.messages != nil {
			if msg, found := e.messages.Format(domainErr.Code(), domainErr.Args()...); found {
				detail = msg
			}
		}
		writeDomainError(w, domainErr, detail)
		return
	}
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		e.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err))
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// RespondError maps errors to HTTP responses using RFC7807 without a message catalogue.
func RespondError(w http.ResponseWriter, err error) {
	if domainErr, ok := shared.AsError(err); ok {
		writeDomainError(w, domainErr, domainErr.Error())
		return
	}
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func writeDomainError(w http.ResponseWriter, err *shared.Error, detail string) {
	status := StatusForKind(err.Kind)
	if err.Kind == shared.KindLoginAccessDenied && err.RetryIn > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(err.RetryIn.Seconds())), 10))
	}
	WriteProblem(w, ProblemDetail{
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   err.Code(),
		Kind:   string(err.Kind),
	})
}

// StatusForKind returns the HTTP status for a domain error kind.
func StatusForKind(kind shared.Kind) int {
	switch kind {
	case shared.KindRoleAlreadyExists:
		return http.StatusConflict
	case shared.KindInvalidCredentials:
		return http.StatusUnauthorized
	case shared.KindLoginAccessDenied:
		return http.StatusForbidden
	case shared.KindProfileNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
