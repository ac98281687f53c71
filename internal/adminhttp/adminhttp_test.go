package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianrt/spine/pkg/backend"
)

type fakeChecker struct {
	speed, quality backend.Health
	speedErr       error
}

func (f fakeChecker) SpeedHealth(context.Context) (backend.Health, error)   { return f.speed, f.speedErr }
func (f fakeChecker) QualityHealth(context.Context) (backend.Health, error) { return f.quality, nil }

func TestHealthzReportsHealthyWhenBothTiersAreUp(t *testing.T) {
	checker := fakeChecker{
		speed:   backend.Health{Status: backend.StatusHealthy},
		quality: backend.Health{Status: backend.StatusHealthy},
	}
	srv := New(":0", checker)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Empty(t, body.Errors)
}

func TestHealthzReportsDegradedOnTierFailure(t *testing.T) {
	checker := fakeChecker{
		speed:   backend.Health{Status: backend.StatusUnavailable},
		quality: backend.Health{Status: backend.StatusHealthy},
	}
	srv := New(":0", checker)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
}
