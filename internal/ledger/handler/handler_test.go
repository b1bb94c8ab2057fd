package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifetag/internal/ledger/models"
	"lifetag/internal/ledger/service"
	"lifetag/internal/ledger/store"
	id "lifetag/pkg/domain"
	"lifetag/pkg/testutil"
)

func newLedgerRouter(t *testing.T, owner id.AccountID) (http.Handler, *service.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(store.NewInMemory(), service.WithLogger(logger))
	r := chi.NewRouter()
	r.Use(testutil.AccountMiddleware(owner, true))
	New(svc, logger).Register(r)
	return r, svc
}

func seed(t *testing.T, svc *service.Service, owner id.AccountID, at time.Time, outcome models.Outcome, fields ...string) {
	t.Helper()
	_, err := svc.Append(context.Background(), models.Entry{
		TagID:           "T1",
		OwnerID:         &owner,
		Outcome:         outcome,
		DisclosedFields: fields,
		Origin:          "203.0.113.0/24",
		Timestamp:       at,
	})
	require.NoError(t, err)
}

func TestAuditListAndFilters(t *testing.T) {
	owner := id.AccountID(uuid.New())
	router, svc := newLedgerRouter(t, owner)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	seed(t, svc, owner, base, models.OutcomeGranted, "bloodType")
	seed(t, svc, owner, base.Add(time.Minute), models.OutcomeGranted, "allergies")
	seed(t, svc, owner, base.Add(2*time.Minute), models.OutcomeDeniedSuspended)
	seed(t, svc, id.AccountID(uuid.New()), base, models.OutcomeGranted, "bloodType")

	t.Run("owner sees only their entries, newest first", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/me/audit"))
		testutil.AssertStatusOK(t, rr)
		page := testutil.UnmarshalResponse[PageResponse](t, rr)
		require.Len(t, page.Entries, 3)
		assert.Equal(t, "denied_suspended", page.Entries[0].Outcome)
	})

	t.Run("outcome and text filters", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/me/audit?outcome=granted&q=blood"))
		testutil.AssertStatusOK(t, rr)
		page := testutil.UnmarshalResponse[PageResponse](t, rr)
		require.Len(t, page.Entries, 1)
		assert.Equal(t, []string{"bloodType"}, page.Entries[0].DisclosedFields)
	})

	t.Run("paging with cursor", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/me/audit?limit=2"))
		page := testutil.UnmarshalResponse[PageResponse](t, rr)
		require.Len(t, page.Entries, 2)
		require.NotEmpty(t, page.NextCursor)

		rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/me/audit?limit=2&cursor="+page.NextCursor))
		next := testutil.UnmarshalResponse[PageResponse](t, rr)
		require.Len(t, next.Entries, 1)
		assert.Empty(t, next.NextCursor)
	})

	t.Run("bad parameters", func(t *testing.T) {
		for _, path := range []string{"/me/audit?from=yesterday", "/me/audit?outcome=maybe", "/me/audit?limit=-1"} {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, path))
			testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
		}
	})
}

func TestAuditStatsAndExport(t *testing.T) {
	owner := id.AccountID(uuid.New())
	router, svc := newLedgerRouter(t, owner)
	seed(t, svc, owner, time.Now().Add(-time.Minute), models.OutcomeGranted, "bloodType")
	seed(t, svc, owner, time.Now(), models.OutcomeDeniedRevoked)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/me/audit/stats"))
	testutil.AssertStatusOK(t, rr)
	stats := testutil.UnmarshalResponse[models.Stats](t, rr)
	assert.Equal(t, 1, stats.TotalGranted)
	assert.Equal(t, 1, stats.FailedAttempts)

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/me/audit/export.csv"))
	testutil.AssertStatusOK(t, rr)
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "timestamp,outcome"))
}
