package billing

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docskit/tenant-api/internal/handler"
	"github.com/docskit/tenant-api/internal/middleware"
	"github.com/docskit/tenant-api/internal/model"
	billingService "github.com/docskit/tenant-api/internal/service/billing"
	"github.com/docskit/tenant-api/pkg/logger"
)

const (
	// SignatureHeader carries the provider's webhook signature.
	SignatureHeader  = "Webhook-Signature"
	webhookBodyLimit = 1 << 20
)

type Handler struct {
	reconciler *billingService.Reconciler
	service    *billingService.Service
	logger     *logger.Logger
}

func NewHandler(reconciler *billingService.Reconciler, service *billingService.Service, logger *logger.Logger) *Handler {
	return &Handler{reconciler: reconciler, service: service, logger: logger}
}

// RegisterWebhookRoutes mounts the provider-facing endpoint. It is public:
// authentication is the signature, not a session.
func (h *Handler) RegisterWebhookRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/billing", h.HandleWebhook)
}

// RegisterRoutes mounts the dashboard-facing billing surface.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	billing := r.Group("/billing")
	{
		billing.GET("/status", h.GetStatus)
		billing.POST("/checkout", h.StartCheckout)
		billing.POST("/portal", h.OpenPortal)
	}
}

// HandleWebhook acknowledges with 200 for both fresh and duplicate events
// so the provider stops redelivering; only signature failures and our own
// faults are distinguishable to it.
func (h *Handler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookBodyLimit))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("failed to read request body"))
		return
	}

	result, err := h.reconciler.HandleEvent(c.Request.Context(), body, c.GetHeader(SignatureHeader))
	if err != nil {
		switch err {
		case billingService.ErrInvalidSignature, billingService.ErrSignatureTooOld, billingService.ErrMalformedSigHeader:
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid signature"))
		default:
			h.logger.Error(err, "webhook processing failed")
			c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("processing failed"))
		}
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"result": result}))
}

func (h *Handler) GetStatus(c *gin.Context) {
	org, ok := middleware.Organization(c)
	if !ok {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("workspace not found"))
		return
	}
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("unauthorized"))
		return
	}

	status, err := h.service.GetStatus(c.Request.Context(), org.ID, userID)
	if err != nil {
		handler.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(status))
}

type checkoutRequest struct {
	Plan model.Plan `json:"plan" binding:"required,oneof=BASIC PREMIUM ENTERPRISE"`
}

func (h *Handler) StartCheckout(c *gin.Context) {
	org, ok := middleware.Organization(c)
	if !ok {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("workspace not found"))
		return
	}
	if !h.requireSuperAdmin(c) {
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	url, err := h.service.StartCheckout(c.Request.Context(), org.ID, req.Plan)
	if err != nil {
		handler.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"url": url}))
}

func (h *Handler) OpenPortal(c *gin.Context) {
	org, ok := middleware.Organization(c)
	if !ok {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("workspace not found"))
		return
	}
	if !h.requireSuperAdmin(c) {
		return
	}

	url, err := h.service.OpenPortal(c.Request.Context(), org.ID)
	if err != nil {
		handler.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"url": url}))
}

// requireSuperAdmin relies on the role the billing gate resolved.
func (h *Handler) requireSuperAdmin(c *gin.Context) bool {
	if model.Role(c.GetString(middleware.ContextRole)) != model.RoleSuperAdmin {
		c.JSON(http.StatusForbidden, handler.NewErrorResponse("only the workspace owner can manage billing"))
		return false
	}
	return true
}
