package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"qwork_backend/internal/lifecycle/domain"
	"qwork_backend/internal/lifecycle/service"
	"qwork_backend/internal/lifecycle/transport"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/httpkit"
	"qwork_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "requisição inválida"
	msgValidationFailed = "falha de validação"
	msgInvalidID        = "identificador inválido"
	msgMissingArtifact  = "arquivo do laudo ausente"

	artifactFormField = "arquivo"
	maxArtifactBytes  = 25 << 20
)

// Handler handles HTTP requests for lotes, avaliações and laudos.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new lifecycle handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterLoteRoutes registers the routes under /lotes.
func (h *Handler) RegisterLoteRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.CreateLote)
	rg.GET("/:id", h.GetLote)
	rg.POST("/:id/transition", h.TransitionLote)
	rg.POST("/:id/recompute", h.RecomputeLote)
	rg.POST("/:id/solicitar-emissao", h.RequestEmission)
}

// RegisterAvaliacaoRoutes registers the routes under /avaliacoes.
func (h *Handler) RegisterAvaliacaoRoutes(rg *gin.RouterGroup) {
	rg.POST("/:id/inativar", h.Inactivate)
	rg.GET("/:id/elegibilidade-inativacao", h.Eligibility)
	rg.POST("/:id/iniciar", h.Start)
	rg.POST("/:id/concluir", h.Complete)
}

// RegisterLaudoRoutes registers the routes under /laudos.
func (h *Handler) RegisterLaudoRoutes(rg *gin.RouterGroup) {
	rg.POST("/:loteId/emitir", h.Emit)
	rg.POST("/:loteId/verificar", h.Verify)
	rg.POST("/:loteId/erro", h.MarkError)
	rg.POST("/:loteId/reprocessar", h.Retry)
	rg.POST("/:loteId/enviar", h.MarkSent)
	rg.GET("/:loteId/download", h.Download)
}

// CreateLote handles POST /api/v1/lotes
func (h *Handler) CreateLote(c *gin.Context) {
	var req transport.CreateLoteRequest
	if !h.bind(c, &req) {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	detail, err := h.svc.CreateLote(c.Request.Context(), actor, transport.ToCreateLoteInput(req))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, transport.ToLoteDetailResponse(detail))
}

// GetLote handles GET /api/v1/lotes/:id
func (h *Handler) GetLote(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	detail, err := h.svc.GetLote(c.Request.Context(), actor, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLoteDetailResponse(detail))
}

// TransitionLote handles POST /api/v1/lotes/:id/transition
func (h *Handler) TransitionLote(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req transport.TransitionLoteRequest
	if !h.bind(c, &req) {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	lote, err := h.svc.TransitionLote(c.Request.Context(), actor, id, domain.LoteStatus(req.Status))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLoteResponse(lote))
}

// RecomputeLote handles POST /api/v1/lotes/:id/recompute
func (h *Handler) RecomputeLote(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	result, err := h.svc.RecomputeLote(c.Request.Context(), actor, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// RequestEmission handles POST /api/v1/lotes/:id/solicitar-emissao
func (h *Handler) RequestEmission(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	lote, err := h.svc.RequestEmission(c.Request.Context(), actor, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLoteResponse(lote))
}

// Inactivate handles POST /api/v1/avaliacoes/:id/inativar
func (h *Handler) Inactivate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req transport.InactivateRequest
	if !h.bind(c, &req) {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	result, err := h.svc.InactivateAvaliacao(c.Request.Context(), actor, id, req.Justificativa, req.Forcar)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToInactivationResponse(result))
}

// Eligibility handles GET /api/v1/avaliacoes/:id/elegibilidade-inativacao
func (h *Handler) Eligibility(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	guard, err := h.svc.CheckInactivationEligibility(c.Request.Context(), actor, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, guard)
}

// Start handles POST /api/v1/avaliacoes/:id/iniciar
func (h *Handler) Start(c *gin.Context) {
	h.advance(c, h.svc.StartAvaliacao)
}

// Complete handles POST /api/v1/avaliacoes/:id/concluir
func (h *Handler) Complete(c *gin.Context) {
	h.advance(c, h.svc.CompleteAvaliacao)
}

type advanceFunc func(ctx context.Context, c caller.Context, id int64) (service.AvaliacaoResult, error)

func (h *Handler) advance(c *gin.Context, fn advanceFunc) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	result, err := fn(c.Request.Context(), actor, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToAvaliacaoResultResponse(result))
}

// Emit handles POST /api/v1/laudos/:loteId/emitir
func (h *Handler) Emit(c *gin.Context) {
	loteID, ok := parseID(c, "loteId")
	if !ok {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}
	artifact, ok := readArtifact(c)
	if !ok {
		return
	}

	laudo, err := h.svc.EmitLaudo(c.Request.Context(), actor, loteID, artifact)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLaudoResponse(laudo))
}

// Verify handles POST /api/v1/laudos/:loteId/verificar
func (h *Handler) Verify(c *gin.Context) {
	loteID, ok := parseID(c, "loteId")
	if !ok {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}
	artifact, ok := readArtifact(c)
	if !ok {
		return
	}

	valid, err := h.svc.VerifyIntegrity(c.Request.Context(), actor, loteID, artifact)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.IntegrityResponse{Valido: valid})
}

// Download handles GET /api/v1/laudos/:loteId/download
func (h *Handler) Download(c *gin.Context) {
	loteID, ok := parseID(c, "loteId")
	if !ok {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	dl, err := h.svc.LaudoDownloadURL(c.Request.Context(), actor, loteID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, dl)
}

// MarkError handles POST /api/v1/laudos/:loteId/erro
func (h *Handler) MarkError(c *gin.Context) {
	loteID, ok := parseID(c, "loteId")
	if !ok {
		return
	}
	var req transport.LaudoErrorRequest
	if !h.bind(c, &req) {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	laudo, err := h.svc.MarkLaudoError(c.Request.Context(), actor, loteID, req.Causa)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLaudoResponse(laudo))
}

// Retry handles POST /api/v1/laudos/:loteId/reprocessar
func (h *Handler) Retry(c *gin.Context) {
	h.laudoAction(c, h.svc.RetryLaudo)
}

// MarkSent handles POST /api/v1/laudos/:loteId/enviar
func (h *Handler) MarkSent(c *gin.Context) {
	h.laudoAction(c, h.svc.MarkLaudoSent)
}

type laudoFunc func(ctx context.Context, c caller.Context, loteID int64) (domain.Laudo, error)

func (h *Handler) laudoAction(c *gin.Context, fn laudoFunc) {
	loteID, ok := parseID(c, "loteId")
	if !ok {
		return
	}
	actor, ok := caller.MustFromGin(c)
	if !ok {
		return
	}

	laudo, err := fn(c.Request.Context(), actor, loteID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLaudoResponse(laudo))
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

// readArtifact accepts the laudo bytes as a multipart file field or as the raw body.
func readArtifact(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxArtifactBytes)

	var src io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile(artifactFormField)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgMissingArtifact, nil)
			return nil, false
		}
		f, err := fh.Open()
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgMissingArtifact, nil)
			return nil, false
		}
		defer f.Close()
		src = f
	}

	data, err := io.ReadAll(src)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpkit.Error(c, http.StatusRequestEntityTooLarge, "arquivo do laudo excede o limite", nil)
			return nil, false
		}
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return nil, false
	}
	if len(data) == 0 {
		httpkit.Error(c, http.StatusBadRequest, msgMissingArtifact, nil)
		return nil, false
	}
	return data, true
}
