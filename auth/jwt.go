package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"document-gateway/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ScopeRead  = "dom.read"
	ScopeWrite = "dom.write"
)

type Claims struct {
	Subject   string    `json:"sub"`
	Scopes    []string  `json:"scopes"`
	Email     string    `json:"email,omitempty"`
	Org       string    `json:"org,omitempty"`
	ExpiresAt time.Time `json:"exp"`
}

func (c Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Require fails with PermissionDenied unless the claims carry scope.
func (c Claims) Require(scope string) error {
	if !c.HasScope(scope) {
		return domain.PermissionDenied(fmt.Sprintf("token is missing the %s scope", scope))
	}
	return nil
}

type tokenClaims struct {
	Scopes []string `json:"scopes"`
	Email  string   `json:"email,omitempty"`
	Org    string   `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates and issues HS512 bearer tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// GenerateToken issues a token for development and tooling.
func (a *Authenticator) GenerateToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(a.secret)
}

func (a *Authenticator) Validate(tokenString string) (Claims, error) {
	if tokenString == "" {
		return Claims{}, domain.Unauthenticated("missing bearer token", nil)
	}

	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, domain.Unauthenticated("token expired", err)
		}
		return Claims{}, domain.Unauthenticated("invalid token", err)
	}
	if !token.Valid {
		return Claims{}, domain.Unauthenticated("invalid token", nil)
	}
	if claims.Subject == "" {
		return Claims{}, domain.Unauthenticated("token has no subject", nil)
	}

	return Claims{
		Subject:   claims.Subject,
		Scopes:    claims.Scopes,
		Email:     claims.Email,
		Org:       claims.Org,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
