package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docskit/tenant-api/internal/handler"
	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/repository"
	"github.com/docskit/tenant-api/pkg/logger"
	"github.com/docskit/tenant-api/pkg/metrics"
)

const billingPathPrefix = "/billing"

// GateDecision is the outcome of the billing gate for one request.
type GateDecision struct {
	Allow   bool
	Status  int
	Message string
}

var allow = GateDecision{Allow: true}

// DecideGate maps subscription state, member role, and the request shape
// to an access decision. Payment-blocked states answer 402 for every
// role; only the message differs, telling owners to fix payment and
// members to find their owner. States needing support intervention
// answer 403. Billing endpoints stay reachable to the workspace owner
// where paying can fix the state, so a blocked workspace can always pay
// its way out.
func DecideGate(org *model.Organization, role model.Role, method, path string, now time.Time) GateDecision {
	onBillingSurface := strings.HasPrefix(path, billingPathPrefix)

	switch org.PlanStatus {
	case model.PlanStatusNone:
		// Free tier, no subscription yet.
		return allow

	case model.PlanStatusActive:
		return allow

	case model.PlanStatusTrialing:
		if !org.TrialExpired(now) {
			return allow
		}
		if role == model.RoleSuperAdmin {
			if onBillingSurface {
				return allow
			}
			return GateDecision{Status: http.StatusPaymentRequired,
				Message: "your trial has ended, choose a plan to continue"}
		}
		return GateDecision{Status: http.StatusPaymentRequired,
			Message: "your trial has ended, ask your workspace owner to choose a plan"}

	case model.PlanStatusPastDue:
		// Reads and deletes keep working so data stays reachable and
		// removable while payment is sorted out.
		if method == http.MethodGet || method == http.MethodDelete {
			return allow
		}
		if role == model.RoleSuperAdmin {
			if onBillingSurface {
				return allow
			}
			return GateDecision{Status: http.StatusPaymentRequired,
				Message: "payment failed, update your payment method to restore write access"}
		}
		return GateDecision{Status: http.StatusPaymentRequired,
			Message: "payment failed, ask your workspace owner to update the payment method"}

	case model.PlanStatusCanceled, model.PlanStatusUnpaid:
		if role == model.RoleSuperAdmin {
			if onBillingSurface {
				return allow
			}
			return GateDecision{Status: http.StatusPaymentRequired,
				Message: "your subscription has ended, resubscribe to continue"}
		}
		return GateDecision{Status: http.StatusPaymentRequired,
			Message: "your subscription has ended, ask your workspace owner to resubscribe"}

	case model.PlanStatusIncomplete, model.PlanStatusPaused:
		// Paying cannot fix these states, so no billing carve-outs.
		return GateDecision{Status: http.StatusForbidden,
			Message: "your subscription is not active, contact support"}

	default:
		// Unknown provider statuses deny rather than guess.
		return GateDecision{Status: http.StatusForbidden,
			Message: "your subscription is not active"}
	}
}

// BillingGate enforces subscription state on tenant routes. It runs after
// tenant resolution and authentication.
type BillingGate struct {
	membershipRepo repository.MembershipRepository
	logger         *logger.Logger
	metrics        *metrics.Metrics
}

func NewBillingGate(membershipRepo repository.MembershipRepository, logger *logger.Logger, metrics *metrics.Metrics) *BillingGate {
	return &BillingGate{membershipRepo: membershipRepo, logger: logger, metrics: metrics}
}

func (g *BillingGate) Enforce() gin.HandlerFunc {
	return func(c *gin.Context) {
		org, ok := Organization(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("internal server error"))
			c.Abort()
			return
		}
		userID, ok := UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("unauthorized"))
			c.Abort()
			return
		}

		role, err := g.membershipRepo.GetRole(c.Request.Context(), userID, org.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusForbidden, handler.NewErrorResponse("not a member of this workspace"))
				c.Abort()
				return
			}
			g.logger.Error(err, "membership lookup failed", "organization_id", org.ID.String())
			c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("internal server error"))
			c.Abort()
			return
		}
		c.Set(ContextRole, string(role))

		decision := DecideGate(org, role, c.Request.Method, relativePath(c), time.Now())
		if !decision.Allow {
			g.metrics.GateRejections.WithLabelValues(string(org.PlanStatus)).Inc()
			c.JSON(decision.Status, handler.NewErrorResponse(decision.Message))
			c.Abort()
			return
		}

		c.Next()
	}
}

const ContextRole = "member_role"

const apiPathPrefix = "/api/v1"

// relativePath strips the API prefix so gate rules see routes the way the
// router groups declare them. The matched route template is preferred over
// the raw URL so path parameters cannot shadow route names.
func relativePath(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	return strings.TrimPrefix(path, apiPathPrefix)
}
