package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/auth"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/resourcemgr"
	"github.com/sylvia-iot/controlplane/internal/store/postgres"
)

const principalKey = "principal"

// RequireAuth implements spec §4.8's Authorization Middleware (C9):
// extract the bearer token, introspect it via the Token Service (C1,
// which cache-validates internally), resolve the principal's roles
// from its user row when the token is user-bound, and bind the
// resulting resourcemgr.Principal to the request. A client-credentials
// token carries no user_id and is bound with the service role, per
// spec's role lattice.
func RequireAuth(authSvc auth.Service, users *postgres.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			abortAuth(c, err)
			return
		}

		info, err := authSvc.TokenInfo(c.Request.Context(), token)
		if err != nil {
			abortAuth(c, apperr.Auth(apperr.CodeAuthInvalid, "invalid or expired token"))
			return
		}

		p := resourcemgr.Principal{ClientID: info.ClientID}
		if info.UserID != nil {
			u, err := users.Get(c.Request.Context(), *info.UserID)
			if err != nil {
				abortAuth(c, apperr.Auth(apperr.CodeAuthInvalid, "token's user no longer exists"))
				return
			}
			p.UserID = info.UserID
			p.Roles = u.Roles
		} else {
			p.Roles = []models.Role{models.RoleService}
		}

		c.Set(principalKey, p)
		c.Set("token_scope", info.Scope)
		c.Next()
	}
}

// RequireRole enforces the required_roles_any half of spec §4.8's
// per-route matrix: the principal must carry at least one of the
// given roles. Admin is not special-cased here — callers that mean
// "admin or X" list admin explicitly, since some routes (e.g. unit
// ownership reassignment) are admin/manager-only by design.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			abortAuth(c, apperr.Auth(apperr.CodeAuthInvalid, "no authenticated principal"))
			return
		}
		for _, want := range roles {
			for _, have := range p.Roles {
				if have == want {
					c.Next()
					return
				}
			}
		}
		abortAuth(c, apperr.Forbidden(apperr.CodePerm, "role not permitted for this route"))
	}
}

// RequireScope enforces the required_scopes_any half of the matrix:
// the token's granted scope must contain at least one of the listed
// scope items.
func RequireScope(scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		granted := splitTokenScope(c.GetString("token_scope"))
		for _, want := range scopes {
			if _, ok := granted[want]; ok {
				c.Next()
				return
			}
		}
		abortAuth(c, apperr.Forbidden(apperr.CodePerm, "scope not permitted for this route"))
	}
}

// RequireUserContext rejects client-credentials tokens from routes
// that only make sense bound to a user, per spec §4.8.
func RequireUserContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok || p.UserID == nil {
			abortAuth(c, apperr.Auth(apperr.CodeAuthInvalid, "this route requires a user-bound token"))
			return
		}
		c.Next()
	}
}

// GetPrincipal retrieves the principal RequireAuth bound to the request.
func GetPrincipal(c *gin.Context) (resourcemgr.Principal, bool) {
	v, exists := c.Get(principalKey)
	if !exists {
		return resourcemgr.Principal{}, false
	}
	p, ok := v.(resourcemgr.Principal)
	return p, ok
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", apperr.Auth(apperr.CodeAuthInvalid, "authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", apperr.Auth(apperr.CodeAuthInvalid, "invalid authorization header format")
	}
	return parts[1], nil
}

func splitTokenScope(scope string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range strings.Fields(scope) {
		out[s] = struct{}{}
	}
	return out
}

func abortAuth(c *gin.Context, err error) {
	c.Error(err)
	c.Abort()
}
