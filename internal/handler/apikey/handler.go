package apikey

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docskit/tenant-api/internal/handler"
	"github.com/docskit/tenant-api/internal/middleware"
	"github.com/docskit/tenant-api/internal/model"
	apikeyService "github.com/docskit/tenant-api/internal/service/apikey"
)

type Handler struct {
	service *apikeyService.Service
}

func NewHandler(service *apikeyService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	apps := r.Group("/applications")
	{
		apps.POST("", h.CreateApplication)
		apps.GET("", h.ListApplications)
		apps.POST("/:id/keys", h.CreateKey)
		apps.GET("/:id/keys", h.ListKeys)
	}
	keys := r.Group("/keys")
	{
		keys.DELETE("/:id", h.RevokeKey)
		keys.POST("/:id/regenerate", h.RegenerateKey)
	}
}

// RegisterDataRoutes mounts the key-authenticated data plane surface.
func (h *Handler) RegisterDataRoutes(r *gin.RouterGroup) {
	r.GET("/me", h.KeyContext)
}

// KeyContext tells a data-plane caller which application its key belongs
// to, without ever echoing key material.
func (h *Handler) KeyContext(c *gin.Context) {
	appValue, ok := c.Get(middleware.ContextApplication)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("unauthorized"))
		return
	}
	keyValue, ok := c.Get(middleware.ContextAPIKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("unauthorized"))
		return
	}

	app := appValue.(*model.Application)
	key := keyValue.(*model.APIKey)
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"application_id": app.ID,
		"application":    app.Name,
		"key_prefix":     key.KeyPrefix,
		"environment":    key.Environment,
	}))
}

type createApplicationRequest struct {
	Name          string  `json:"name" binding:"required"`
	AllowedDomain *string `json:"allowed_domain"`
}

func (h *Handler) CreateApplication(c *gin.Context) {
	org, ok := middleware.Organization(c)
	if !ok {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("workspace not found"))
		return
	}

	var req createApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	app := &model.Application{
		OrganizationID: org.ID,
		Name:           req.Name,
		AllowedDomain:  req.AllowedDomain,
	}
	if err := h.service.CreateApplication(c.Request.Context(), app); err != nil {
		handler.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(app))
}

func (h *Handler) ListApplications(c *gin.Context) {
	org, ok := middleware.Organization(c)
	if !ok {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("workspace not found"))
		return
	}

	apps, err := h.service.ListApplications(c.Request.Context(), org.ID)
	if err != nil {
		handler.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(apps))
}

// CreateKey issues a key for an application in the resolved workspace.
// The raw secret appears in this response and nowhere else, ever.
func (h *Handler) CreateKey(c *gin.Context) {
	appID, app := h.scopedApplication(c)
	if app == nil {
		return
	}

	var req model.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	created, err := h.service.CreateAPIKey(c.Request.Context(), appID, &req)
	if err != nil {
		handler.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(created))
}

func (h *Handler) ListKeys(c *gin.Context) {
	appID, app := h.scopedApplication(c)
	if app == nil {
		return
	}

	keys, err := h.service.ListAPIKeys(c.Request.Context(), appID)
	if err != nil {
		handler.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(keys))
}

func (h *Handler) RevokeKey(c *gin.Context) {
	keyID, ok := h.scopedKey(c)
	if !ok {
		return
	}

	revoked, err := h.service.RevokeAPIKey(c.Request.Context(), keyID)
	if err != nil {
		handler.Error(c, err)
		return
	}
	if !revoked {
		c.JSON(http.StatusConflict, handler.NewErrorResponse("api key is already revoked"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

func (h *Handler) RegenerateKey(c *gin.Context) {
	keyID, ok := h.scopedKey(c)
	if !ok {
		return
	}

	// An empty body means "same name, environment, and expiry".
	var overrides model.CreateAPIKeyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&overrides); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return
		}
	}

	created, err := h.service.RegenerateAPIKey(c.Request.Context(), keyID, &overrides)
	if err != nil {
		handler.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(created))
}

// scopedApplication loads the :id application and confirms it belongs to
// the resolved workspace. Cross-tenant ids answer 404, not 403.
func (h *Handler) scopedApplication(c *gin.Context) (uuid.UUID, *model.Application) {
	org, ok := middleware.Organization(c)
	if !ok {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("workspace not found"))
		return uuid.Nil, nil
	}

	appID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid application ID"))
		return uuid.Nil, nil
	}

	app, err := h.service.GetApplication(c.Request.Context(), appID)
	if err != nil {
		handler.Error(c, err)
		return uuid.Nil, nil
	}
	if app.OrganizationID != org.ID {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("application not found"))
		return uuid.Nil, nil
	}

	return appID, app
}

func (h *Handler) scopedKey(c *gin.Context) (uuid.UUID, bool) {
	org, ok := middleware.Organization(c)
	if !ok {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("workspace not found"))
		return uuid.Nil, false
	}

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid api key ID"))
		return uuid.Nil, false
	}

	_, app, err := h.service.GetAPIKey(c.Request.Context(), keyID)
	if err != nil {
		handler.Error(c, err)
		return uuid.Nil, false
	}
	if app.OrganizationID != org.ID {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("api key not found"))
		return uuid.Nil, false
	}

	return keyID, true
}
