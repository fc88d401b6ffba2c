package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docskit/tenant-api/internal/handler"
	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/service/apikey"
	"github.com/docskit/tenant-api/pkg/logger"
)

const (
	HeaderAppID        = "X-App-Id"
	ContextAPIKey      = "api_key"
	ContextApplication = "application"
)

// APIKeyMiddleware authenticates data-plane requests by API key. The key
// is verified against storage on every request; a claimed application id
// that does not own the key fails with the same 401 as a bad key.
type APIKeyMiddleware struct {
	keyService *apikey.Service
	logger     *logger.Logger
}

func NewAPIKeyMiddleware(keyService *apikey.Service, logger *logger.Logger) *APIKeyMiddleware {
	return &APIKeyMiddleware{keyService: keyService, logger: logger}
}

func (m *APIKeyMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey, ok := bearerKey(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing api key"))
			c.Abort()
			return
		}

		verification, err := m.keyService.VerifyAPIKey(c.Request.Context(), rawKey)
		if err != nil {
			m.logger.Error(err, "api key verification failed")
			c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("internal server error"))
			c.Abort()
			return
		}
		if !verification.Valid {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid api key"))
			c.Abort()
			return
		}

		claimedApp, err := uuid.Parse(c.GetHeader(HeaderAppID))
		if err != nil || !apikey.MatchesApplication(verification.APIKey, claimedApp) {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid api key"))
			c.Abort()
			return
		}

		if allowed := originAllowed(c, verification.Application); !allowed {
			c.JSON(http.StatusForbidden, handler.NewErrorResponse("origin not allowed"))
			c.Abort()
			return
		}

		m.keyService.TouchLastUsed(verification.APIKey.ID)

		c.Set(ContextAPIKey, verification.APIKey)
		c.Set(ContextApplication, verification.Application)
		c.Next()
	}
}

func bearerKey(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || !strings.HasPrefix(parts[1], "dk_") {
		return "", false
	}
	return parts[1], true
}

func originAllowed(c *gin.Context, app *model.Application) bool {
	// An application without a registered domain restricts nothing.
	if app.AllowedDomain == nil {
		return true
	}
	return apikey.ValidateOrigin(c.GetHeader("Origin"), *app.AllowedDomain)
}
