package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/roomchat/internal/auth"
	"github.com/suPer8Hu/roomchat/internal/common"
	"github.com/suPer8Hu/roomchat/internal/logx"
)

const (
	UserIDKey   = logx.FieldUserID
	IdentityKey = "identity"
)

// AuthRequired validates the bearer token on every request: a missing token
// is 401, an invalid or expired one 403.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "access token required")
			return
		}
		id, err := auth.ParseJWT(token, secret)
		if err != nil {
			common.Fail(c, http.StatusForbidden, 40301, "invalid or expired token")
			return
		}
		c.Set(UserIDKey, id.UserID)
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
