package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"youth-mis/internal/apperr"
	"youth-mis/internal/model"
	"youth-mis/internal/wire"
)

const (
	callerContextKey = "caller"
	tokenContextKey  = "accessToken"
)

// Authenticator resolves an access token into the caller it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (model.Caller, error)
}

func CallerFromContext(c *gin.Context) (model.Caller, bool) {
	v, ok := c.Get(callerContextKey)
	if !ok {
		return model.Caller{}, false
	}
	caller, ok := v.(model.Caller)
	return caller, ok && !caller.Anonymous()
}

func TokenFromContext(c *gin.Context) string {
	return c.GetString(tokenContextKey)
}

// Abort ends the request with the error body for err.
func Abort(c *gin.Context, err error) {
	status, body := wire.ErrorFrom(err)
	c.AbortWithStatusJSON(status, body)
}

// BearerToken reads the Authorization header, falling back to the
// token query parameter used by websocket clients.
func BearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return c.Query("token")
}

// RequireAPIKey rejects requests that do not carry the deployment's public
// key in the apikey header or query parameter.
func RequireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("apikey")
		if got == "" {
			got = c.Query("apikey")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, wire.ErrorBody{Error: "Invalid API key", Code: apperr.KindAuth.String()})
			return
		}
		c.Next()
	}
}

func RequireAuth(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			Abort(c, apperr.New(apperr.KindAuth, "", "Invalid authentication token"))
			return
		}
		caller, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			Abort(c, err)
			return
		}
		c.Set(callerContextKey, caller)
		c.Set(tokenContextKey, token)
		c.Next()
	}
}
