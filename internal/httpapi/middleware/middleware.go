package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/suPer8Hu/cyberguard/internal/auth"
	"github.com/suPer8Hu/cyberguard/internal/common"
)

const (
	UserIDKey    = "user_id"
	IdentityKey  = "identity"
	RequestIDKey = "request_id"

	RequestIDHeader = "X-Request-ID"
)

// Recovery turns a panic into a 500 envelope.
func Recovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic recovered",
					"panic", rec,
					"path", c.Request.URL.Path,
					"request_id", c.GetString(RequestIDKey),
					"stack", string(debug.Stack()),
				)
				common.AbortFail(c, http.StatusInternalServerError, 50000, "internal server error")
			}
		}()
		c.Next()
	}
}

// RequestID reuses an incoming X-Request-ID or mints one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AuthRequired verifies the bearer token and stores the caller's identity.
func AuthRequired(a auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.StripBearer(c.GetHeader("Authorization"))
		if token == "" {
			common.AbortFail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			return
		}
		id, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				common.AbortFail(c, http.StatusUnauthorized, 40102, "invalid or expired token")
				return
			}
			common.AbortFail(c, http.StatusInternalServerError, 50001, "failed to verify token")
			return
		}
		c.Set(UserIDKey, id.ID)
		c.Set(IdentityKey, id)
		c.Next()
	}
}

func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
