package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"qwork_backend/internal/billing/service"
	"qwork_backend/platform/httpkit"
	"qwork_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

// newEngine mounts the handler without a store. Every request exercised here
// is rejected before the service opens a transaction.
func newEngine(claims *httpkit.Claims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(service.New(nil, nil), validator.New())

	engine := gin.New()
	if claims != nil {
		engine.Use(func(c *gin.Context) {
			c.Set(httpkit.ContextClaimsKey, *claims)
			c.Next()
		})
	}
	h.RegisterAccountRoutes(engine.Group("/contas"))
	h.RegisterPaymentRoutes(engine.Group("/pagamentos"))
	h.RegisterPublicTokenRoutes(engine.Group("/tokens-retomada"))
	return engine
}

func do(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestValidateMalformedTokenIsInvalid(t *testing.T) {
	rec := do(newEngine(nil), http.MethodGet, "/tokens-retomada/nao-e-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["valid"] != false || body["reason"] != "invalido" {
		t.Fatalf("unexpected validation %v", body)
	}
}

func TestConsumeMalformedTokenIsNotFound(t *testing.T) {
	rec := do(newEngine(nil), http.MethodPost, "/tokens-retomada/nao-e-token/consumir", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	if code := decode(t, rec)["code"]; code != "TOKEN_INVALID" {
		t.Fatalf("unexpected code %v", code)
	}
}

func TestActivateRejectsBadInput(t *testing.T) {
	engine := newEngine(nil)

	if rec := do(engine, http.MethodPost, "/contas/abc/ativar", `{"motivo":"ok"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}

	rec := do(engine, http.MethodPost, "/contas/1/ativar", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing motivo, got %d", rec.Code)
	}
	details, _ := decode(t, rec)["details"].(map[string]any)
	if details["Motivo"] != "required" {
		t.Fatalf("expected field error for Motivo, got %v", details)
	}
}

func TestActivateRequiresAuthenticatedOperator(t *testing.T) {
	body := `{"motivo":"pagamento conferido no extrato"}`

	if rec := do(newEngine(nil), http.MethodPost, "/contas/1/ativar", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without claims, got %d", rec.Code)
	}

	clinicaID, empresaID := int64(1), int64(2)
	rh := &httpkit.Claims{Subject: "11111111111", Perfil: "rh", ScopeKind: "empresa", ScopeID: &empresaID, ClinicaID: &clinicaID}
	rec := do(newEngine(rh), http.MethodPost, "/contas/1/ativar", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for rh, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateInstallmentValidatesStatus(t *testing.T) {
	engine := newEngine(nil)

	if rec := do(engine, http.MethodPatch, "/pagamentos/1/parcelas/0", `{"status":"pago"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for installment 0, got %d", rec.Code)
	}
	if rec := do(engine, http.MethodPatch, "/pagamentos/1/parcelas/1", `{"status":"estornado"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}
