package audit

import (
	"strconv"

	"qwork_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Handler exposes read access to the audit trail.
type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/:resource/:id", h.List)
}

func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.repo.List(c.Request.Context(), c.Param("resource"), c.Param("id"), limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": items})
}
