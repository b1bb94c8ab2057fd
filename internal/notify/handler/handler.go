package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lifetag/internal/notify/models"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
	"lifetag/pkg/platform/httputil"
	request "lifetag/pkg/platform/middleware/request"
	"lifetag/pkg/requestcontext"
)

// Service lists notification events for the dashboard.
type Service interface {
	ListForOwner(ctx context.Context, owner id.AccountID) ([]*models.Event, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/me/notifications", h.HandleList)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, ok := requestcontext.Account(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	events, err := h.service.ListForOwner(ctx, account.AccountID)
	if err != nil {
		h.logger.WarnContext(ctx, "list notifications failed",
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(events))
}
