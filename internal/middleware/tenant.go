package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	"github.com/docskit/tenant-api/internal/handler"
	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/policy"
	"github.com/docskit/tenant-api/internal/repository"
	"github.com/docskit/tenant-api/internal/tenant"
	"github.com/docskit/tenant-api/pkg/logger"
)

const (
	HeaderTenantSlug    = "X-Tenant-Slug"
	ContextOrganization = "organization"
	ContextTenantSlug   = "tenant_slug"
)

// TenantMiddleware resolves the organization for a request from its host
// or an explicit tenant header. Lookups are cached with a short TTL, so
// downstream state checks may lag a webhook by at most that long.
type TenantMiddleware struct {
	resolver *tenant.Resolver
	orgRepo  repository.OrganizationRepository
	cache    *cache.Cache
	logger   *logger.Logger
}

func NewTenantMiddleware(resolver *tenant.Resolver, orgRepo repository.OrganizationRepository, ttl time.Duration, logger *logger.Logger) *TenantMiddleware {
	return &TenantMiddleware{
		resolver: resolver,
		orgRepo:  orgRepo,
		cache:    cache.New(ttl, 2*ttl),
		logger:   logger,
	}
}

// Resolve requires a tenant: requests that do not map to a live
// organization get 404 without revealing whether the slug exists.
func (m *TenantMiddleware) Resolve() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Behind a proxy the original host arrives forwarded.
		host := c.GetHeader("X-Forwarded-Host")
		if host == "" {
			host = c.Request.Host
		}

		slug, err := m.resolver.Resolve(host, c.GetHeader(HeaderTenantSlug))
		if err != nil {
			m.logger.Error(err, "tenant resolution failed", "host", c.Request.Host)
			c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("internal server error"))
			c.Abort()
			return
		}
		if slug == "" {
			c.JSON(http.StatusNotFound, handler.NewErrorResponse("workspace not found"))
			c.Abort()
			return
		}

		org, err := m.lookup(c, slug)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, handler.NewErrorResponse("workspace not found"))
				c.Abort()
				return
			}
			m.logger.Error(err, "organization lookup failed", "slug", slug)
			c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("internal server error"))
			c.Abort()
			return
		}

		if !policy.IsOrganizationServable(org) {
			c.JSON(http.StatusNotFound, handler.NewErrorResponse("workspace not found"))
			c.Abort()
			return
		}

		c.Set(ContextTenantSlug, slug)
		c.Set(ContextOrganization, org)
		c.Next()
	}
}

func (m *TenantMiddleware) lookup(c *gin.Context, slug string) (*model.Organization, error) {
	if cached, ok := m.cache.Get(slug); ok {
		return cached.(*model.Organization), nil
	}

	org, err := m.orgRepo.GetBySlug(c.Request.Context(), slug)
	if err != nil {
		return nil, err
	}

	m.cache.SetDefault(slug, org)
	return org, nil
}

// Organization extracts the resolved organization from the request context.
func Organization(c *gin.Context) (*model.Organization, bool) {
	v, ok := c.Get(ContextOrganization)
	if !ok {
		return nil, false
	}
	org, ok := v.(*model.Organization)
	return org, ok
}
