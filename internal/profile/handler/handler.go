package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lifetag/internal/profile/models"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
	"lifetag/pkg/platform/httputil"
	request "lifetag/pkg/platform/middleware/request"
	"lifetag/pkg/requestcontext"
)

// Service defines the profile operations exposed to owners.
type Service interface {
	Create(ctx context.Context, owner id.AccountID) (*models.Profile, error)
	ListForOwner(ctx context.Context, owner id.AccountID) ([]*models.Profile, error)
	OwnerView(ctx context.Context, owner id.AccountID, profileID id.ProfileID) (*models.Profile, error)
	SetField(ctx context.Context, owner id.AccountID, profileID id.ProfileID, name, value, tier string) (*models.Profile, error)
	RemoveField(ctx context.Context, owner id.AccountID, profileID id.ProfileID, name string) (*models.Profile, error)
	SetContacts(ctx context.Context, owner id.AccountID, profileID id.ProfileID, contacts []models.Contact) (*models.Profile, error)
	SetPIN(ctx context.Context, owner id.AccountID, profileID id.ProfileID, pin string) error
}

// Handler serves the owner-authenticated profile routes.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts profile routes. The router must already require an
// authenticated account.
func (h *Handler) Register(r chi.Router) {
	r.Post("/me/profiles", h.HandleCreate)
	r.Get("/me/profiles", h.HandleList)
	r.Get("/me/profiles/{profileID}", h.HandleGet)
	r.Put("/me/profiles/{profileID}/fields/{name}", h.HandleSetField)
	r.Delete("/me/profiles/{profileID}/fields/{name}", h.HandleRemoveField)
	r.Put("/me/profiles/{profileID}/contacts", h.HandleSetContacts)
	r.Put("/me/profiles/{profileID}/pin", h.HandleSetPIN)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	p, err := h.service.Create(ctx, account.AccountID)
	if err != nil {
		h.fail(ctx, w, "create profile failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toOwnerView(p))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListForOwner(ctx, account.AccountID)
	if err != nil {
		h.fail(ctx, w, "list profiles failed", err)
		return
	}
	out := make([]OwnerViewResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toOwnerView(p))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"profiles": out})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, profileID, ok := h.ownerAndProfile(w, r)
	if !ok {
		return
	}
	p, err := h.service.OwnerView(ctx, account.AccountID, profileID)
	if err != nil {
		h.fail(ctx, w, "load profile failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toOwnerView(p))
}

func (h *Handler) HandleSetField(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, profileID, ok := h.ownerAndProfile(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SetFieldRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.SetField(ctx, account.AccountID, profileID, chi.URLParam(r, "name"), req.Value, req.Tier)
	if err != nil {
		h.fail(ctx, w, "set field failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toOwnerView(p))
}

func (h *Handler) HandleRemoveField(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, profileID, ok := h.ownerAndProfile(w, r)
	if !ok {
		return
	}
	p, err := h.service.RemoveField(ctx, account.AccountID, profileID, chi.URLParam(r, "name"))
	if err != nil {
		h.fail(ctx, w, "remove field failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toOwnerView(p))
}

func (h *Handler) HandleSetContacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, profileID, ok := h.ownerAndProfile(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SetContactsRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.SetContacts(ctx, account.AccountID, profileID, req.toModels())
	if err != nil {
		h.fail(ctx, w, "set contacts failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toOwnerView(p))
}

func (h *Handler) HandleSetPIN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, profileID, ok := h.ownerAndProfile(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SetPINRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.SetPIN(ctx, account.AccountID, profileID, req.PIN); err != nil {
		h.fail(ctx, w, "set pin failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ownerAndProfile(w http.ResponseWriter, r *http.Request) (requestcontext.AccountContext, id.ProfileID, bool) {
	account, ok := requireAccount(w, r)
	if !ok {
		return account, id.ProfileID{}, false
	}
	profileID, err := id.ParseProfileID(chi.URLParam(r, "profileID"))
	if err != nil {
		httputil.WriteError(w, err)
		return account, id.ProfileID{}, false
	}
	return account, profileID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", request.GetRequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func requireAccount(w http.ResponseWriter, r *http.Request) (requestcontext.AccountContext, bool) {
	account, ok := requestcontext.Account(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
	}
	return account, ok
}
