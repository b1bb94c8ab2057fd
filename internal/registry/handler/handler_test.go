package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	profileservice "lifetag/internal/profile/service"
	profilestore "lifetag/internal/profile/store"
	"lifetag/internal/registry/service"
	"lifetag/internal/registry/store"
	id "lifetag/pkg/domain"
	"lifetag/pkg/testutil"
)

type registryFixture struct {
	owner     id.AccountID
	profileID id.ProfileID
	owners    http.Handler
	admin     http.Handler
}

func newRegistryFixture(t *testing.T, entitled bool) registryFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	profiles := profileservice.New(profilestore.NewInMemory(), profileservice.WithLogger(logger))
	owner := id.AccountID(uuid.New())
	p, err := profiles.Create(context.Background(), owner)
	require.NoError(t, err)

	h := New(service.New(store.NewInMemory(), profiles, service.WithLogger(logger)), logger)

	ownerRouter := chi.NewRouter()
	ownerRouter.Use(testutil.AccountMiddleware(owner, entitled))
	h.Register(ownerRouter)

	adminRouter := chi.NewRouter()
	h.RegisterAdmin(adminRouter)

	return registryFixture{owner: owner, profileID: p.ID, owners: ownerRouter, admin: adminRouter}
}

func TestRegistryLifecycleViaHandlers(t *testing.T) {
	f := newRegistryFixture(t, true)

	rr := testutil.DoRequest(f.admin, testutil.NewJSONRequest(t, http.MethodPost, "/admin/tags",
		map[string]string{"tag_id": "BR-1001"}))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	rr = testutil.DoRequest(f.owners, testutil.NewJSONRequest(t, http.MethodPost, "/me/tags/BR-1001/link",
		map[string]string{"profile_id": f.profileID.String()}))
	testutil.AssertStatusOK(t, rr)
	linked := testutil.UnmarshalResponse[TagResponse](t, rr)
	assert.Equal(t, "active", linked.Status)
	assert.Equal(t, f.profileID.String(), linked.ProfileID)

	rr = testutil.DoRequest(f.admin, testutil.NewJSONRequest(t, http.MethodPost, "/internal/entitlements",
		map[string]any{"tag_id": "BR-1001", "entitled": false}))
	testutil.AssertStatusOK(t, rr)
	assert.Equal(t, "suspended", testutil.UnmarshalResponse[TagResponse](t, rr).Status)

	rr = testutil.DoRequest(f.owners, testutil.NewJSONRequest(t, http.MethodPost, "/me/tags/BR-1001/status",
		map[string]string{"status": "revoked"}))
	testutil.AssertStatusOK(t, rr)

	rr = testutil.DoRequest(f.admin, testutil.NewJSONRequest(t, http.MethodPost, "/admin/tags/BR-1001/reregister",
		map[string]string{"note": "returned for refurbishment"}))
	testutil.AssertStatusOK(t, rr)
	assert.Equal(t, "unlinked", testutil.UnmarshalResponse[TagResponse](t, rr).Status)

	rr = testutil.DoRequest(f.owners, testutil.NewRequest(t, http.MethodGet, "/me/profiles/"+f.profileID.String()+"/tag-history"))
	testutil.AssertStatusOK(t, rr)
	history := testutil.UnmarshalResponse[struct {
		Events []EventResponse `json:"events"`
	}](t, rr)
	require.Len(t, history.Events, 4)
	assert.Equal(t, "returned for refurbishment", history.Events[3].Note)

	rr = testutil.DoRequest(f.owners, testutil.NewRequest(t, http.MethodGet, "/me/profiles/"+f.profileID.String()+"/tags"))
	testutil.AssertStatusOK(t, rr)
}

func TestRegistryHandlerErrors(t *testing.T) {
	f := newRegistryFixture(t, true)
	rr := testutil.DoRequest(f.admin, testutil.NewJSONRequest(t, http.MethodPost, "/admin/tags",
		map[string]string{"tag_id": "BR-1"}))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	t.Run("duplicate registration", func(t *testing.T) {
		rr := testutil.DoRequest(f.admin, testutil.NewJSONRequest(t, http.MethodPost, "/admin/tags",
			map[string]string{"tag_id": "BR-1"}))
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "conflict")
	})

	t.Run("invalid tag id", func(t *testing.T) {
		rr := testutil.DoRequest(f.owners, testutil.NewJSONRequest(t, http.MethodPost, "/me/tags/bad%20id/link",
			map[string]string{"profile_id": f.profileID.String()}))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})

	t.Run("unknown status", func(t *testing.T) {
		rr := testutil.DoRequest(f.owners, testutil.NewJSONRequest(t, http.MethodPost, "/me/tags/BR-1/status",
			map[string]string{"status": "paused"}))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
	})

	t.Run("activating an unlinked tag is an invalid transition", func(t *testing.T) {
		rr := testutil.DoRequest(f.admin, testutil.NewJSONRequest(t, http.MethodPost, "/admin/tags/BR-1/status",
			map[string]string{"status": "active"}))
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "invalid_state")
	})

	t.Run("foreign profile history is not found", func(t *testing.T) {
		rr := testutil.DoRequest(f.owners, testutil.NewRequest(t, http.MethodGet, "/me/profiles/"+uuid.NewString()+"/tag-history"))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})

	t.Run("missing entitled flag", func(t *testing.T) {
		rr := testutil.DoRequest(f.admin, testutil.NewJSONRequest(t, http.MethodPost, "/internal/entitlements",
			map[string]string{"tag_id": "BR-1"}))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
	})
}

func TestLinkWithoutEntitlementIsForbidden(t *testing.T) {
	f := newRegistryFixture(t, false)
	rr := testutil.DoRequest(f.admin, testutil.NewJSONRequest(t, http.MethodPost, "/admin/tags",
		map[string]string{"tag_id": "BR-2"}))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	rr = testutil.DoRequest(f.owners, testutil.NewJSONRequest(t, http.MethodPost, "/me/tags/BR-2/link",
		map[string]string{"profile_id": f.profileID.String()}))
	testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
}
