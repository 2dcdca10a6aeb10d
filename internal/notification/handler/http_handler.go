package handler

import (
	"net/http"
	"strconv"

	"qwork_backend/internal/notification/inapp"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/httpkit"
	"qwork_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type markReadRequest struct {
	IDs []uuid.UUID `json:"ids" validate:"required,min=1,max=200"`
}

type resolveByContextRequest struct {
	Chave string `json:"chave" validate:"required,max=63"`
	Valor string `json:"valor" validate:"required,trim,max=200"`
}

type HTTPHandler struct {
	svc *inapp.Service
	val *validator.Validator
}

func NewHTTPHandler(svc *inapp.Service, val *validator.Validator) *HTTPHandler {
	return &HTTPHandler{svc: svc, val: val}
}

func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("/lidas", h.MarkRead)
	rg.POST("/resolver-por-contexto", h.ResolveByContext)
	rg.POST("/:id/resolver", h.Resolve)
}

func (h *HTTPHandler) List(c *gin.Context) {
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	includeResolved, _ := strconv.ParseBool(c.DefaultQuery("incluirResolvidas", "false"))

	filter := inapp.Filter{
		Tipo:            c.Query("tipo"),
		Prioridade:      inapp.Prioridade(c.Query("prioridade")),
		IncludeResolved: includeResolved,
		Page:            page,
		PageSize:        limit,
	}
	if filter.Prioridade != "" && !filter.Prioridade.Valid() {
		httpkit.Error(c, http.StatusBadRequest, "prioridade inválida", nil)
		return
	}

	items, total, err := h.svc.List(c.Request.Context(), actor, filter)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{
		"items": items,
		"total": total,
		"page":  page,
	})
}

func (h *HTTPHandler) MarkRead(c *gin.Context) {
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	var req markReadRequest
	if !h.bind(c, &req) {
		return
	}

	n, err := h.svc.MarkRead(c.Request.Context(), actor, req.IDs)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"marcadas": n})
}

func (h *HTTPHandler) Resolve(c *gin.Context) {
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "identificador inválido", nil)
		return
	}

	resolved, err := h.svc.Resolve(c.Request.Context(), actor, id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"resolvida": resolved})
}

func (h *HTTPHandler) ResolveByContext(c *gin.Context) {
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	var req resolveByContextRequest
	if !h.bind(c, &req) {
		return
	}

	n, err := h.svc.ResolveByContext(c.Request.Context(), actor, req.Chave, req.Valor)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"resolvidas": n})
}

func (h *HTTPHandler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "requisição inválida", nil)
		return false
	}
	if err := h.val.Struct(dst); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "falha de validação", validator.FieldErrors(err))
		return false
	}
	return true
}
