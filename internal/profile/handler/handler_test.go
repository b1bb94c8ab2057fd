package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifetag/internal/profile/service"
	"lifetag/internal/profile/store"
	id "lifetag/pkg/domain"
	"lifetag/pkg/testutil"
)

func newProfileRouter(t *testing.T, account id.AccountID) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(store.NewInMemory(), service.WithLogger(logger))
	r := chi.NewRouter()
	r.Use(testutil.AccountMiddleware(account, true))
	New(svc, logger).Register(r)
	return r
}

func TestProfileLifecycleViaHandlers(t *testing.T) {
	owner := id.AccountID(uuid.New())
	router := newProfileRouter(t, owner)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/me/profiles"))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	created := testutil.UnmarshalResponse[OwnerViewResponse](t, rr)
	require.NotEmpty(t, created.ID)
	base := "/me/profiles/" + created.ID

	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPut, base+"/fields/bloodType",
		map[string]string{"value": "O-", "tier": "public"}))
	testutil.AssertStatusOK(t, rr)

	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPut, base+"/fields/insurance",
		map[string]string{"value": "INS-9", "tier": "private"}))
	testutil.AssertStatusOK(t, rr)

	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPut, base+"/contacts",
		map[string]any{"contacts": []map[string]any{
			{"name": "Sam", "kind": "EMAIL", "address": "sam@example.com", "access_alerts": true},
		}}))
	testutil.AssertStatusOK(t, rr)

	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPut, base+"/pin",
		map[string]string{"pin": "2468"}))
	testutil.AssertStatus(t, rr, http.StatusNoContent)

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, base))
	testutil.AssertStatusOK(t, rr)
	view := testutil.UnmarshalResponse[OwnerViewResponse](t, rr)
	assert.Equal(t, "INS-9", view.Fields["insurance"].Value, "owner view includes private fields")
	assert.True(t, view.HasPIN)
	require.Len(t, view.Contacts, 1)
	assert.Equal(t, "email", string(view.Contacts[0].Kind))
}

func TestProfileHandlerErrors(t *testing.T) {
	owner := id.AccountID(uuid.New())
	router := newProfileRouter(t, owner)

	t.Run("invalid profile id", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/me/profiles/not-a-uuid"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})

	t.Run("unknown profile", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/me/profiles/"+uuid.NewString()))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})

	t.Run("unknown tier", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/me/profiles"))
		created := testutil.UnmarshalResponse[OwnerViewResponse](t, rr)
		rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPut,
			"/me/profiles/"+created.ID+"/fields/notes", map[string]string{"value": "x", "tier": "secret"}))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
	})

	t.Run("unknown body field rejected", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/me/profiles"))
		created := testutil.UnmarshalResponse[OwnerViewResponse](t, rr)
		rr = testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPut,
			"/me/profiles/"+created.ID+"/pin", `{"pin":"1234","extra":true}`))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})
}

func TestProfileRequiresAccount(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	New(service.New(store.NewInMemory()), logger).Register(r)

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/me/profiles"))
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)
}
