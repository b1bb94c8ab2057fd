package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"lifetag/internal/ledger/models"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
	"lifetag/pkg/platform/httputil"
	request "lifetag/pkg/platform/middleware/request"
	"lifetag/pkg/requestcontext"
)

// Service defines the owner-facing ledger queries.
type Service interface {
	Page(ctx context.Context, owner id.AccountID, filter models.Filter, cursor string, limit int) (models.Page, error)
	Stats(ctx context.Context, owner id.AccountID) (models.Stats, error)
	ExportCSV(ctx context.Context, w io.Writer, owner id.AccountID, filter models.Filter) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the audit routes. The router must require an account.
func (h *Handler) Register(r chi.Router) {
	r.Get("/me/audit", h.HandleList)
	r.Get("/me/audit/stats", h.HandleStats)
	r.Get("/me/audit/export.csv", h.HandleExport)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
	}
	page, err := h.service.Page(ctx, account.AccountID, filter, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.fail(ctx, w, "list audit entries failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPageResponse(page))
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	stats, err := h.service.Stats(ctx, account.AccountID)
	if err != nil {
		h.fail(ctx, w, "audit stats failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="access-log.csv"`)
	if err := h.service.ExportCSV(ctx, w, account.AccountID, filter); err != nil {
		// Headers are gone once streaming starts; the truncated file is the signal.
		h.logger.ErrorContext(ctx, "audit export failed",
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
	}
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", request.GetRequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func parseFilter(q url.Values) (models.Filter, error) {
	var f models.Filter
	var err error
	if f.From, err = parseTime(q.Get("from"), "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q.Get("to"), "to"); err != nil {
		return f, err
	}
	for _, raw := range q["outcome"] {
		for part := range strings.SplitSeq(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			outcome, ok := models.ParseOutcome(part)
			if !ok {
				return f, dErrors.New(dErrors.CodeInvalidInput, "unknown outcome "+part)
			}
			f.Outcomes = append(f.Outcomes, outcome)
		}
	}
	f.Query = strings.TrimSpace(q.Get("q"))
	return f, nil
}

func parseTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeInvalidInput, name+" must be an RFC 3339 timestamp")
	}
	return t, nil
}

func requireAccount(w http.ResponseWriter, r *http.Request) (requestcontext.AccountContext, bool) {
	account, ok := requestcontext.Account(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
	}
	return account, ok
}
