package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lifetag/internal/platform/config"
)

func TestWriteTimeoutFollowsRequestTimeout(t *testing.T) {
	srv := New(config.Server{Addr: ":9090", RequestTimeout: 10 * time.Second}, http.NotFoundHandler())
	assert.Equal(t, ":9090", srv.Addr)
	assert.Equal(t, 15*time.Second, srv.WriteTimeout)

	srv = New(config.Server{Addr: ":9090"}, http.NotFoundHandler())
	assert.Equal(t, 30*time.Second, srv.WriteTimeout)
}
