package secret

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/confesso/core/internal/geocode"
)

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"), deny)
	return r
}

func TestHandler_Create(t *testing.T) {
	svc, _, gc, pub := newTestService(t)
	gc.On("Reverse", mock.Anything, mock.Anything).Return(geocode.Place{Region: "RJ", City: "Niterói"}, nil)
	pub.On("BroadcastAdmin", mock.Anything, mock.Anything)
	r := newTestRouter(svc)

	body := `{"text":"segredo","location":{"latitude":-22.88,"longitude":-43.10}}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/secrets", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusCreated, w.Code)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "RJ", out["estado"])
	assert.Equal(t, float64(0), out["likes"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/secrets/"+out["id"].(string)+"/like", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandler_Errors(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	r := newTestRouter(svc)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"blank text", http.MethodPost, "/api/v1/secrets", `{"text":"   ","location":{"latitude":1,"longitude":1}}`, http.StatusUnprocessableEntity},
		{"bad json", http.MethodPost, "/api/v1/secrets", `{`, http.StatusBadRequest},
		{"missing", http.MethodGet, "/api/v1/secrets/nope", "", http.StatusNotFound},
		{"like missing", http.MethodPost, "/api/v1/secrets/nope/like", "", http.StatusNotFound},
		{"admin", http.MethodGet, "/api/v1/admin/secrets", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body)))
			assert.Equal(t, tc.status, w.Code)
		})
	}
}
