package organization

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docskit/tenant-api/internal/handler"
	"github.com/docskit/tenant-api/internal/middleware"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/organization", h.GetOrganization)
}

// GetOrganization returns the workspace the request resolved to.
func (h *Handler) GetOrganization(c *gin.Context) {
	org, ok := middleware.Organization(c)
	if !ok {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("workspace not found"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(org))
}
