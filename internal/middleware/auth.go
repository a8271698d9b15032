package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"payup/internal/domain"
)

const (
	appKey   = "app"
	appIDKey = "app_id"
)

// errUnauthorized is the generic rejection message.
var errUnauthorized = errors.New("unauthorized")

// Authenticator resolves an API key to its app.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*domain.App, error)
}

// APIKeyAuth requires "Authorization: Bearer <api key>" and stores the app in the context.
func APIKeyAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "Authorization header must be in the format 'Bearer <api_key>'")
			return
		}

		app, err := auth.Authenticate(c.Request.Context(), apiKey)
		if err != nil {
			abortUnauthorized(c, "invalid API key")
			return
		}

		c.Set(appKey, app)
		c.Set(appIDKey, app.ID)
		c.Next()
	}
}

// AdminAuth requires the configured admin token as a bearer token.
// An empty token disables every admin route.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := bearerToken(c)
		if !ok || token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			abortUnauthorized(c, errUnauthorized.Error())
			return
		}
		c.Next()
	}
}

// AppFromContext returns the app stored by APIKeyAuth.
func AppFromContext(c *gin.Context) (*domain.App, bool) {
	v, ok := c.Get(appKey)
	if !ok {
		return nil, false
	}
	app, ok := v.(*domain.App)
	return app, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	schema, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(schema, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
