package pool

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestHttpMetrics(t *testing.T) {
	p := newTestPool(t, "loop")
	assert.NoError(t, p.Initialize())

	p.Stats.Dispatched.Add(3)
	p.Stats.Completed.Add(2)
	p.Stats.Timeouts.Add(1)

	r := echo.New()
	NewHttpHandler(p, r)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "tunebench_pool_workers 1")
	assert.Contains(t, body, "tunebench_pool_dispatched_total 3")
	assert.Contains(t, body, "tunebench_pool_completed_total 2")
	assert.Contains(t, body, "tunebench_pool_timeouts_total 1")
	assert.Contains(t, body, "tunebench_pool_crashes_total 0")
}

func TestHttpStatus(t *testing.T) {
	p := newTestPool(t, "loop")
	assert.NoError(t, p.Initialize())

	r := echo.New()
	NewHttpHandler(p, r)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"workers":1`)
}
