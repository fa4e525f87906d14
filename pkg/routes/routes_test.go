package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/catalog/catalogtest"
	"github.com/Ramsey-B/fern/pkg/governance"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes"
	"github.com/Ramsey-B/fern/pkg/routes/health"
)

const base = "/api/v1/projects/p1"

type api struct {
	t *testing.T
	e *echo.Echo
}

func newAPI(t *testing.T, seed ...*models.CodeEntry) *api {
	t.Helper()
	logger := catalogtest.Logger()
	store := catalog.NewMemoryStore()
	if len(seed) > 0 {
		catalogtest.Seed(t, store, seed...)
	}
	svc := governance.NewService(store, governance.Options{}, nil, nil, logger)
	checker := health.NewChecker("test", map[string]health.Pinger{"database": store})
	checker.SetReady(true)
	return &api{t: t, e: routes.NewServer("fern-test", svc, checker, logger)}
}

func (a *api) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(middleware.HeaderActor, "alice")
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCodesAPI_CreateValidatePromote(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodPost, base+"/codes", map[string]any{"label": "Trust", "evidence_refs": []string{"frag-1"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.CreateCandidateResult](t, rec)
	assert.Equal(t, models.CodeStatusPending, created.Entry.Status)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	path := base + "/codes/1"
	rec = a.do(http.MethodPost, path+"/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = a.do(http.MethodPost, path+"/promote", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	promoted := decode[models.CodeEntry](t, rec)
	assert.True(t, promoted.IsPromoted())

	rec = a.do(http.MethodGet, path+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.HistoryEntry](t, rec), 3)

	rec = a.do(http.MethodGet, base+"/codes?status=validated&promoted=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.CodeEntry](t, rec), 1)
}

func TestCodesAPI_ErrorsCarryTaxonomyCode(t *testing.T) {
	a := newAPI(t, catalogtest.Code("p1", 1, "Doubt", models.CodeStatusHypothesis))

	rec := a.do(http.MethodPost, base+"/codes/1/validate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[middleware.ErrorResponse](t, rec)
	assert.Equal(t, "MISSING_EVIDENCE", body.Code)
	assert.NotEmpty(t, body.RequestID)

	rec = a.do(http.MethodGet, base+"/codes/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodGet, base+"/codes/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, base+"/codes", map[string]any{"label": "x", "source": "oracle"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCodesAPI_MergeReplay(t *testing.T) {
	a := newAPI(t,
		catalogtest.Code("p1", 1, "Trust", models.CodeStatusValidated, catalogtest.Evidence("f")),
		catalogtest.Code("p1", 2, "trusting", models.CodeStatusPending),
	)
	req := map[string]any{"source_ids": []int64{2}, "target_id": 1, "idempotency_key": "k-1"}

	rec := a.do(http.MethodPost, base+"/merges", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[map[string]any](t, rec)
	assert.Equal(t, false, first["replayed"])

	rec = a.do(http.MethodPost, base+"/merges", req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["replayed"])

	rec = a.do(http.MethodGet, base+"/resolve?label=trusting", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decode[models.CanonicalEntry](t, rec)
	assert.Equal(t, int64(1), resolved.Entry.SID())
}

func TestProjectsAPI_FreezeBlocksWritesNotReads(t *testing.T) {
	a := newAPI(t, catalogtest.Code("p1", 1, "Doubt", models.CodeStatusPending, catalogtest.Evidence("f")))

	rec := a.do(http.MethodPost, base+"/freeze", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, base+"/freeze", models.FreezeRequest{Reason: "axial-analysis"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, base+"/codes/1/validate", nil)
	assert.Equal(t, http.StatusLocked, rec.Code)
	body := decode[middleware.ErrorResponse](t, rec)
	assert.Equal(t, "PROJECT_FROZEN", body.Code)
	assert.Equal(t, "axial-analysis", body.Meta["reason"])

	rec = a.do(http.MethodGet, base+"/resolve?stable_id=1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(http.MethodGet, base+"/drift", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(http.MethodPost, base+"/drift/repair?mode=apply", nil)
	assert.Equal(t, http.StatusLocked, rec.Code)
	rec = a.do(http.MethodPost, base+"/drift/repair?mode=force", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, base+"/unfreeze", models.UnfreezeRequest{ConfirmationPhrase: "unfreeze p1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CONFIRMATION_MISMATCH", decode[middleware.ErrorResponse](t, rec).Code)

	rec = a.do(http.MethodPost, base+"/unfreeze", models.UnfreezeRequest{ConfirmationPhrase: "UNFREEZE p1"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(http.MethodPost, base+"/codes/1/validate", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	rec := a.do(http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(http.MethodGet, "/api/v1/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	failing := health.NewChecker("test", map[string]health.Pinger{
		"database": health.PingFunc(func(context.Context) error { return errors.New("down") }),
	})
	e := echo.New()
	failing.RegisterRoutes(e)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newAPI(t)
	rec := a.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
