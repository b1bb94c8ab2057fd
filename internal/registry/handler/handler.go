package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lifetag/internal/registry/models"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
	"lifetag/pkg/platform/httputil"
	request "lifetag/pkg/platform/middleware/request"
	"lifetag/pkg/requestcontext"
)

// Service defines the registry operations exposed over HTTP.
type Service interface {
	Register(ctx context.Context, tagID id.TagID, req models.Requester) (*models.Tag, error)
	Link(ctx context.Context, tagID id.TagID, profileID id.ProfileID, req models.Requester) (*models.Tag, error)
	SetStatus(ctx context.Context, tagID id.TagID, status models.Status, req models.Requester) (*models.Tag, error)
	ApplyEntitlement(ctx context.Context, tagID id.TagID, entitled bool) (*models.Tag, error)
	Reregister(ctx context.Context, tagID id.TagID, note string, req models.Requester) (*models.Tag, error)
	History(ctx context.Context, profileID id.ProfileID, req models.Requester) ([]models.Event, error)
	ListForProfile(ctx context.Context, profileID id.ProfileID, req models.Requester) ([]*models.Tag, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the owner routes. The router must require an account.
func (h *Handler) Register(r chi.Router) {
	r.Post("/me/tags/{tagID}/link", h.HandleLink)
	r.Post("/me/tags/{tagID}/status", h.HandleOwnerStatus)
	r.Get("/me/profiles/{profileID}/tags", h.HandleListTags)
	r.Get("/me/profiles/{profileID}/tag-history", h.HandleHistory)
}

// RegisterAdmin mounts system routes. The router must require the admin token.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/tags", h.HandleRegister)
	r.Post("/admin/tags/{tagID}/status", h.HandleSystemStatus)
	r.Post("/admin/tags/{tagID}/reregister", h.HandleReregister)
	r.Post("/internal/entitlements", h.HandleEntitlement)
}

func (h *Handler) HandleLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requester, ok := accountRequester(w, r)
	if !ok {
		return
	}
	tagID, ok := tagParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[LinkRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	tag, err := h.service.Link(ctx, tagID, req.profileID, requester)
	if err != nil {
		h.fail(ctx, w, "link tag failed", tagID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTagResponse(tag))
}

func (h *Handler) HandleOwnerStatus(w http.ResponseWriter, r *http.Request) {
	requester, ok := accountRequester(w, r)
	if !ok {
		return
	}
	h.setStatus(w, r, requester)
}

func (h *Handler) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.SystemRequester())
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, requester models.Requester) {
	ctx := r.Context()
	tagID, ok := tagParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SetStatusRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	tag, err := h.service.SetStatus(ctx, tagID, req.status, requester)
	if err != nil {
		h.fail(ctx, w, "set tag status failed", tagID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTagResponse(tag))
}

func (h *Handler) HandleListTags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requester, profileID, ok := ownerAndProfile(w, r)
	if !ok {
		return
	}
	tags, err := h.service.ListForProfile(ctx, profileID, requester)
	if err != nil {
		h.fail(ctx, w, "list tags failed", "", err)
		return
	}
	out := make([]TagResponse, 0, len(tags))
	for _, tag := range tags {
		out = append(out, toTagResponse(tag))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tags": out})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requester, profileID, ok := ownerAndProfile(w, r)
	if !ok {
		return
	}
	events, err := h.service.History(ctx, profileID, requester)
	if err != nil {
		h.fail(ctx, w, "load tag history failed", "", err)
		return
	}
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[RegisterRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	tag, err := h.service.Register(ctx, req.tagID, models.SystemRequester())
	if err != nil {
		h.fail(ctx, w, "register tag failed", req.tagID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toTagResponse(tag))
}

func (h *Handler) HandleReregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tagID, ok := tagParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ReregisterRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	tag, err := h.service.Reregister(ctx, tagID, req.Note, models.SystemRequester())
	if err != nil {
		h.fail(ctx, w, "re-register tag failed", tagID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTagResponse(tag))
}

// HandleEntitlement receives billing's entitlement changes.
func (h *Handler) HandleEntitlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[EntitlementRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	tag, err := h.service.ApplyEntitlement(ctx, req.tagID, *req.Entitled)
	if err != nil {
		h.fail(ctx, w, "apply entitlement failed", req.tagID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTagResponse(tag))
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, tagID id.TagID, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", request.GetRequestID(ctx),
		"tag_id", tagID,
		"error", err,
	)
	httputil.WriteError(w, err)
}

func tagParam(w http.ResponseWriter, r *http.Request) (id.TagID, bool) {
	tagID, err := id.ParseTagID(chi.URLParam(r, "tagID"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return tagID, true
}

func ownerAndProfile(w http.ResponseWriter, r *http.Request) (models.Requester, id.ProfileID, bool) {
	requester, ok := accountRequester(w, r)
	if !ok {
		return requester, id.ProfileID{}, false
	}
	profileID, err := id.ParseProfileID(chi.URLParam(r, "profileID"))
	if err != nil {
		httputil.WriteError(w, err)
		return requester, id.ProfileID{}, false
	}
	return requester, profileID, true
}

func accountRequester(w http.ResponseWriter, r *http.Request) (models.Requester, bool) {
	account, ok := requestcontext.Account(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return models.Requester{}, false
	}
	return models.AccountRequester(account.AccountID, account.Entitled), true
}
