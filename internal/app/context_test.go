package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hubtrack/internal/config"
	"hubtrack/internal/domain"
	"hubtrack/internal/engine"
)

func TestOpenWiresEngine(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, t.TempDir(), nil, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	issue, err := a.Engine.CreateIssue(ctx, domain.Principal{UID: "u1", Email: "u1@example.com"}, engine.IssueCreateOptions{Title: "Wired"})
	require.NoError(t, err)
	assert.Equal(t, domain.IssueOpen, issue.Status)

	evts, err := a.Engine.Activity(ctx, issue.ID, 10)
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestVerifierNeedsSomething(t *testing.T) {
	_, err := Verifier(context.Background(), config.Default())
	require.Error(t, err)

	cfg := config.Default()
	cfg.Auth.JWTSecret = "s3cret"
	v, err := Verifier(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestHandlerServesHealth(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "s3cret"
	cfg.Auth.SessionSecret = "cookie"
	a, err := Open(ctx, t.TempDir(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	h, err := a.Handler(ctx, false)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	cfg.Auth.DevLogin = true
	cfg.Auth.JWTSecret = ""
	cfg.Auth.JWKSURL = ""
	_, err = a.Handler(ctx, false)
	require.Error(t, err)
}
