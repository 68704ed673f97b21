package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/profitledger/internal/auditcontext"
	"github.com/smallbiznis/profitledger/internal/observability/logger"
	"go.uber.org/zap"
)

// Identity headers set by the upstream gateway after it authenticated the
// caller.
const (
	HeaderUserID    = "X-User-ID"
	HeaderAdminID   = "X-Admin-ID"
	HeaderAdminRole = "X-Admin-Role"

	contextUserIDKey    = "user_id"
	contextAdminIDKey   = "admin_id"
	contextAdminRoleKey = "admin_role"
)

func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID)
		ctx := auditcontext.WithActor(c.Request.Context(), "user", userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := strings.TrimSpace(c.GetHeader(HeaderAdminID))
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderAdminRole)))
		if adminID == "" || role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextAdminIDKey, adminID)
		c.Set(contextAdminRoleKey, role)
		ctx := auditcontext.WithActor(c.Request.Context(), "admin", adminID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// authorize checks the admin's role against the casbin policy for object and
// action. It must run after AdminRequired.
func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := c.GetString(contextAdminIDKey)
		role := c.GetString(contextAdminRoleKey)
		if err := s.authzSvc.Authorize(c.Request.Context(), adminID, role, object, action); err != nil {
			logger.FromContext(c.Request.Context()).Info("admin action denied",
				zap.String("admin_id", adminID),
				zap.String("role", role),
				zap.String("object", object),
				zap.String("action", action),
				zap.Error(err),
			)
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func userIDFrom(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}

func adminIDFrom(c *gin.Context) string {
	return c.GetString(contextAdminIDKey)
}
