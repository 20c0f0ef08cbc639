package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/automata-backoffice/backoffice/internal/platform/httpx"
)

const loginRateWindow = time.Minute

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	errors    *httpx.ErrorRenderer
	rateLimit int
	validator *validator.Validate
}

// NewHandler constructs a Handler instance. rateLimit caps sign-in requests per client IP per minute.
func NewHandler(logger *slog.Logger, service *Service, errors *httpx.ErrorRenderer, rateLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, errors: errors, rateLimit: rateLimit, validator: validator.New()}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.rateLimit > 0 {
			r.Use(httprate.Limit(h.rateLimit, loginRateWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "too many sign-in attempts")
				}),
			))
		}
		r.Post("/login", h.handleLogin)
		r.Post("/login/otp", h.handleVerifyOTP)
	})
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type otpRequest struct {
	PendingToken string `json:"pending_token" validate:"required"`
	Code         string `json:"code" validate:"required,numeric,len=6"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	result, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.errors.Respond(w, r, unauthorized(err))
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	result, err := h.service.VerifyTOTP(r.Context(), req.PendingToken, req.Code)
	if err != nil {
		h.errors.Respond(w, r, unauthorized(err))
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
