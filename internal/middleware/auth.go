package middleware

import (
	"document-gateway/auth"
	"document-gateway/internal/errors"

	"github.com/gin-gonic/gin"
)

const ClaimsKey = "claims"

type TokenValidator interface {
	Validate(token string) (auth.Claims, error)
}

// Auth reads a bearer token from the Authorization header, or from the token
// query parameter for browser streams that cannot set headers.
func Auth(validator TokenValidator) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var token string
		if header := ctx.GetHeader("Authorization"); header != "" {
			var ok bool
			if token, ok = auth.BearerToken(header); !ok {
				ctx.Error(errors.Unauthorized("Authorization header must be a bearer token", nil))
				ctx.Abort()
				return
			}
		} else if q := ctx.Query("token"); q != "" {
			token = q
		} else {
			ctx.Error(errors.Unauthorized("Authorization is not found!", nil))
			ctx.Abort()
			return
		}

		claims, err := validator.Validate(token)
		if err != nil {
			ctx.Error(err)
			ctx.Abort()
			return
		}

		ctx.Set(ClaimsKey, claims)
		ctx.Request = ctx.Request.WithContext(auth.WithClaims(ctx.Request.Context(), claims))
		ctx.Next()
	}
}

// Claims returns the caller's claims set by Auth.
func Claims(ctx *gin.Context) auth.Claims {
	if v, ok := ctx.Get(ClaimsKey); ok {
		if claims, ok := v.(auth.Claims); ok {
			return claims
		}
	}
	return auth.Claims{}
}
