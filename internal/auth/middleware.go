package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/automata-backoffice/backoffice/internal/platform/httpx"
	"github.com/automata-backoffice/backoffice/internal/shared"
)

// Bearer attaches the principal of a valid bearer token to the request context. Requests
// without an Authorization header pass through anonymous; route guards reject them.
func Bearer(tokens *Tokens, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			scheme, raw, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
				httpx.RespondError(w, fmt.Errorf("%w: malformed authorization header", httpx.ErrUnauthorized))
				return
			}
			principal, err := tokens.Principal(strings.TrimSpace(raw))
			if err != nil {
				logger.Debug("bearer rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				httpx.RespondError(w, unauthorized(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func unauthorized(err error) error {
	if errors.Is(err, ErrInvalidToken) {
		return fmt.Errorf("%w: %v", httpx.ErrUnauthorized, err)
	}
	return err
}
