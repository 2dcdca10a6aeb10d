package handler

import (
	"net/http"
	"strconv"

	"qwork_backend/internal/billing/domain"
	"qwork_backend/internal/billing/service"
	"qwork_backend/internal/billing/transport"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/httpkit"
	"qwork_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "requisição inválida"
	msgValidationFailed = "falha de validação"
	msgInvalidID        = "identificador inválido"
)

// Handler handles HTTP requests for accounts, payments and resumption tokens.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new billing handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterAccountRoutes registers the routes under /contas.
func (h *Handler) RegisterAccountRoutes(rg *gin.RouterGroup) {
	rg.POST("/:id/ativar", h.Activate)
	rg.POST("/:id/desativar", h.Deactivate)
	rg.POST("/:id/tokens-retomada", h.IssueToken)
}

// RegisterPaymentRoutes registers the routes under /pagamentos.
func (h *Handler) RegisterPaymentRoutes(rg *gin.RouterGroup) {
	rg.POST("/:id/confirmar", h.ConfirmPayment)
	rg.PATCH("/:id/parcelas/:numero", h.UpdateInstallment)
}

// RegisterPublicTokenRoutes registers the unauthenticated routes under /tokens-retomada.
func (h *Handler) RegisterPublicTokenRoutes(rg *gin.RouterGroup) {
	rg.GET("/:token", h.ValidateToken)
	rg.POST("/:token/consumir", h.ConsumeToken)
}

// Activate handles POST /api/v1/contas/:id/ativar
func (h *Handler) Activate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req transport.ActivateAccountRequest
	if !h.bind(c, &req) {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	res, err := h.svc.ActivateAccount(c.Request.Context(), actor, id, domain.ApprovalContext{
		Reason:                req.Motivo,
		PersonalizadoApproval: req.AprovacaoPersonalizado,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToActivationResponse(res))
}

// Deactivate handles POST /api/v1/contas/:id/desativar
func (h *Handler) Deactivate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req transport.DeactivateAccountRequest
	if !h.bind(c, &req) {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	acc, err := h.svc.DeactivateAccount(c.Request.Context(), actor, id, req.Motivo)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToAccountResponse(acc))
}

// IssueToken handles POST /api/v1/contas/:id/tokens-retomada
func (h *Handler) IssueToken(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req transport.IssueTokenRequest
	if !h.bind(c, &req) {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	issued, err := h.svc.IssueResumptionToken(c.Request.Context(), actor, id, transport.ToPlanSnapshot(req))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, transport.ToTokenResponse(issued))
}

// ConfirmPayment handles POST /api/v1/pagamentos/:id/confirmar
func (h *Handler) ConfirmPayment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	pay, err := h.svc.ConfirmPayment(c.Request.Context(), actor, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToPaymentResponse(pay))
}

// UpdateInstallment handles PATCH /api/v1/pagamentos/:id/parcelas/:numero
func (h *Handler) UpdateInstallment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	numero, ok := parseID(c, "numero")
	if !ok {
		return
	}
	var req transport.UpdateInstallmentRequest
	if !h.bind(c, &req) {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	up, err := h.svc.UpdateInstallmentStatus(c.Request.Context(), actor, id, int(numero), domain.InstallmentStatus(req.Status))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToInstallmentUpdateResponse(up))
}

// ValidateToken handles GET /api/v1/public/tokens-retomada/:token
func (h *Handler) ValidateToken(c *gin.Context) {
	v, err := h.svc.ValidateResumptionToken(c.Request.Context(), c.Param("token"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, v)
}

// ConsumeToken handles POST /api/v1/public/tokens-retomada/:token/consumir
func (h *Handler) ConsumeToken(c *gin.Context) {
	t, err := h.svc.ConsumeResumptionToken(c.Request.Context(), c.Param("token"), nil)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToConsumeTokenResponse(t))
}

func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return false
	}
	return true
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return 0, false
	}
	return id, true
}
