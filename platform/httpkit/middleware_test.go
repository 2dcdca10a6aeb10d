package httpkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qwork_backend/platform/apperr"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type jwtCfg struct{ secret string }

func (c jwtCfg) GetJWTAccessSecret() string { return c.secret }

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func newEngine(cfg jwtCfg, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/me", AuthRequired(cfg), handler)
	return engine
}

func TestAuthRequiredStoresClaims(t *testing.T) {
	cfg := jwtCfg{secret: "s3cret"}
	var got Claims
	engine := newEngine(cfg, func(c *gin.Context) {
		got, _ = GetClaims(c)
		c.Status(http.StatusNoContent)
	})

	raw := signToken(t, cfg.secret, jwt.MapClaims{
		"sub":        "12345678900",
		"perfil":     "gestor",
		"type":       "access",
		"scope_kind": "entidade",
		"scope_id":   float64(42),
		"exp":        time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.Subject != "12345678900" || got.Perfil != "gestor" || got.ScopeKind != "entidade" {
		t.Fatalf("unexpected claims %+v", got)
	}
	if got.ScopeID == nil || *got.ScopeID != 42 {
		t.Fatalf("unexpected scope id %v", got.ScopeID)
	}
}

func TestAuthRequiredRejectsRefreshAndMissingTokens(t *testing.T) {
	cfg := jwtCfg{secret: "s3cret"}
	engine := newEngine(cfg, func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	raw := signToken(t, cfg.secret, jwt.MapClaims{"sub": "12345678900", "perfil": "admin", "type": "refresh"})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for refresh token, got %d", rec.Code)
	}
}

func TestHandleErrorRendersCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{apperr.IllegalTransition("lote", "rascunho", "concluido"), http.StatusConflict, "ILLEGAL_TRANSITION"},
		{apperr.New(apperr.KindTokenExpired, "expirado"), http.StatusGone, "TOKEN_EXPIRED"},
		{apperr.Wrap(apperr.KindInternal, "db down", nil), http.StatusInternalServerError, "INTERNAL_FAILURE"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		HandleError(c, tc.err)

		if rec.Code != tc.wantStatus {
			t.Fatalf("%s: expected %d, got %d", tc.wantCode, tc.wantStatus, rec.Code)
		}
		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Code != tc.wantCode {
			t.Fatalf("expected code %s, got %s", tc.wantCode, body.Code)
		}
		if tc.wantCode == "INTERNAL_FAILURE" && body.Error != "erro interno" {
			t.Fatalf("internal message must be opaque, got %q", body.Error)
		}
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/admin", func(c *gin.Context) {
		c.Set(ContextClaimsKey, Claims{Subject: "1", Perfil: "gestor"})
		c.Next()
	}, RequireRole("admin"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
