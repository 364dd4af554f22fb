package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(messagesCreated.WithLabelValues("ws", "false"))
	MessageCreated("ws", false)
	assert.Equal(t, before+1, testutil.ToFloat64(messagesCreated.WithLabelValues("ws", "false")))

	before = testutil.ToFloat64(receiptTransitions.WithLabelValues("read"))
	ReceiptTransition("read", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(receiptTransitions.WithLabelValues("read")))

	open := testutil.ToFloat64(liveConnections)
	ConnectionOpened()
	ConnectionClosed()
	assert.Equal(t, open, testutil.ToFloat64(liveConnections))
}

func TestGinMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(Handler()))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/ping", "200")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "chat_core_http_requests_total"))
}
