package handler

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lifetag/internal/policy"
	"lifetag/internal/resolver/models"
	id "lifetag/pkg/domain"
	"lifetag/pkg/platform/httputil"
	"lifetag/pkg/platform/middleware/metadata"
	request "lifetag/pkg/platform/middleware/request"
	"lifetag/pkg/requestcontext"
)

// ProofHeader carries a proof token on emergency view requests.
const ProofHeader = "X-Proof-Token"

// notAvailable is the only body a viewer sees for any denial.
const notAvailable = "not_available"

// Service is the resolver as seen by the public endpoints.
type Service interface {
	ResolveEmergencyView(ctx context.Context, tagID id.TagID, proofToken string, meta models.RequestMeta) (*policy.RedactedProfile, error)
	ResolveMalformed(ctx context.Context, raw string, meta models.RequestMeta) error
	ExchangePIN(ctx context.Context, tagID id.TagID, pin string, meta models.RequestMeta) (*models.ProofGrant, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the unauthenticated emergency routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/emergency/{tagID}", h.HandleEmergencyView)
	r.Post("/emergency/{tagID}/proof", h.HandleProofExchange)
}

func (h *Handler) HandleEmergencyView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Robots-Tag", "noindex")

	raw := chi.URLParam(r, "tagID")
	tagID, err := id.ParseTagID(raw)
	if err != nil {
		h.writeResolveError(ctx, w, h.service.ResolveMalformed(ctx, raw, requestMeta(ctx)))
		return
	}

	view, err := h.service.ResolveEmergencyView(ctx, tagID, proofToken(r), requestMeta(ctx))
	if err != nil {
		h.writeResolveError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEmergencyViewResponse(view))
}

func (h *Handler) HandleProofExchange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Cache-Control", "no-store")

	tagID, err := id.ParseTagID(chi.URLParam(r, "tagID"))
	if err != nil {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
		return
	}
	req, ok := httputil.DecodeAndPrepare[ProofRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	grant, err := h.service.ExchangePIN(ctx, tagID, req.PIN, requestMeta(ctx))
	if err != nil {
		if denied, ok := models.AsDenied(err); ok {
			writeRetryAfter(ctx, w, denied)
			writeNotAvailable(w, http.StatusTooManyRequests)
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ProofResponse{Token: grant.Token, ExpiresAt: grant.ExpiresAt})
}

func (h *Handler) writeResolveError(ctx context.Context, w http.ResponseWriter, err error) {
	denied, ok := models.AsDenied(err)
	if !ok {
		h.logger.ErrorContext(ctx, "emergency view failed",
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if denied.Reason == models.ReasonRateLimited {
		writeRetryAfter(ctx, w, denied)
		writeNotAvailable(w, http.StatusTooManyRequests)
		return
	}
	writeNotAvailable(w, http.StatusNotFound)
}

func writeNotAvailable(w http.ResponseWriter, status int) {
	httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: notAvailable})
}

func writeRetryAfter(ctx context.Context, w http.ResponseWriter, denied *models.Denied) {
	if denied.RetryAt.IsZero() {
		return
	}
	secs := int(math.Ceil(denied.RetryAt.Sub(requestcontext.Now(ctx)).Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
}

func proofToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(ProofHeader)); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("proof"))
}

func requestMeta(ctx context.Context) models.RequestMeta {
	return models.RequestMeta{
		Origin:         metadata.GetOrigin(ctx),
		UserAgentClass: metadata.GetUserAgentClass(ctx),
		RequestID:      request.GetRequestID(ctx),
	}
}
