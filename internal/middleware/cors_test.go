package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func corsRouter(allowlist []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(allowlist))
	r.GET("/api/v1/retrieve", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func corsRequest(r *gin.Engine, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/v1/retrieve", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCORS_Allowlist(t *testing.T) {
	r := corsRouter([]string{" https://taller.example.com/ "})

	rec := corsRequest(r, http.MethodGet, "https://taller.example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://taller.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Model-Backend")
	require.Equal(t, "Origin", rec.Header().Get("Vary"))

	rec = corsRequest(r, http.MethodOptions, "https://taller.example.com")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = corsRequest(r, http.MethodGet, "https://otro.example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = corsRequest(r, http.MethodOptions, "https://otro.example.com")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCORS_EmptyOrWildcardAllowsAny(t *testing.T) {
	for _, allowlist := range [][]string{nil, {"*"}, {"https://taller.example.com", "*"}} {
		rec := corsRequest(corsRouter(allowlist), http.MethodGet, "https://otro.example.com")
		require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
