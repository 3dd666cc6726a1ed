package crontask

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pkgcron "github.com/confesso/core/internal/pkg/cron"
)

func newRouter(t *testing.T, allow bool) (*gin.Engine, *pkgcron.Scheduler, *atomic.Int32) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sched := pkgcron.New(zaptest.NewLogger(t))
	runs := &atomic.Int32{}
	sched.Register(pkgcron.Job{Name: "prune", Description: "d", Interval: time.Hour, Fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	t.Cleanup(sched.Wait)

	authMW := func(c *gin.Context) {
		if !allow {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
	r := gin.New()
	NewHandler(sched).RegisterRoutes(r.Group(""), authMW)
	return r, sched, runs
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHandler_List(t *testing.T) {
	r, _, _ := newRouter(t, true)
	w := do(r, http.MethodGet, "/admin/tasks")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []pkgcron.ListItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "prune", body.Data[0].Name)
}

func TestHandler_RunAndGet(t *testing.T) {
	r, sched, runs := newRouter(t, true)

	w := do(r, http.MethodPost, "/admin/tasks/prune/run")
	require.Equal(t, http.StatusOK, w.Code)
	sched.Wait()
	assert.Equal(t, int32(1), runs.Load())

	w = do(r, http.MethodGet, "/admin/tasks/prune")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(pkgcron.StatusFulfill))

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/admin/tasks/missing").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/admin/tasks/missing/run").Code)
}

func TestHandler_RequiresAdmin(t *testing.T) {
	r, _, runs := newRouter(t, false)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/admin/tasks").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/admin/tasks/prune/run").Code)
	assert.Equal(t, int32(0), runs.Load())
}
