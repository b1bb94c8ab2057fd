package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifetag/pkg/platform/middleware/metadata"
)

func TestRequestLoggerNeverLogsRawIP(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(metadata.ClientMetadata)
	r.Use(RequestLogger(logger))
	r.Get("/emergency/{tagID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/emergency/TAG-1", nil)
	req.RemoteAddr = "203.0.113.77:5555"
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.NotContains(t, buf.String(), "203.0.113.77")
	assert.NotContains(t, buf.String(), "TAG-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "/emergency/{tagID}", line["route"])
	assert.Equal(t, "203.0.113.0/24", line["origin"])
}
