package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_AllowsListedOrigin(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	req.Header.Set("Origin", "https://frontdesk.clinic.example")
	rec := httptest.NewRecorder()

	CORS([]string{"https://frontdesk.clinic.example/"})(okHandler(&called)).ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://frontdesk.clinic.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
}

func TestCORS_IgnoresUnknownOrigin(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	req.Header.Set("Origin", "https://unknown.example")
	rec := httptest.NewRecorder()

	CORS([]string{"https://frontdesk.clinic.example"})(okHandler(&called)).ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Wildcard(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	req.Header.Set("Origin", "https://any.example")
	rec := httptest.NewRecorder()

	CORS([]string{" * "})(okHandler(&called)).ServeHTTP(rec, req)

	assert.Equal(t, "https://any.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	mw := CORS([]string{"https://frontdesk.clinic.example"})

	called := false
	req := httptest.NewRequest(http.MethodOptions, "/queue/call-next", nil)
	req.Header.Set("Origin", "https://frontdesk.clinic.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	mw(okHandler(&called)).ServeHTTP(rec, req)
	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodOptions, "/queue/call-next", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	mw(okHandler(&called)).ServeHTTP(rec, req)
	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
