package http

import (
	"github.com/gin-gonic/gin"

	"github.com/example/teleconsult/internal/application"
)

// principalKey is the gin context key holding the authenticated caller.
const principalKey = "teleconsult.principal"

func setPrincipal(c *gin.Context, principal application.Principal) {
	c.Set(principalKey, principal)
}

// principalFrom returns the caller stored by RequireAuth.
func principalFrom(c *gin.Context) (application.Principal, bool) {
	if c == nil {
		return application.Principal{}, false
	}
	value, exists := c.Get(principalKey)
	if !exists {
		return application.Principal{}, false
	}
	principal, ok := value.(application.Principal)
	return principal, ok
}
