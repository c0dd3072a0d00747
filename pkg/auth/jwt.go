package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mahaj/presence-chat/pkg/model"
)

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier issues and validates HS256 tokens carrying a user identity.
type JWTVerifier struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewJWTVerifier(secret string, ttl time.Duration) *JWTVerifier {
	return &JWTVerifier{key: []byte(secret), ttl: ttl, now: time.Now}
}

// GenerateToken creates a signed token for identity.
func (v *JWTVerifier) GenerateToken(identity model.UserIdentity) (string, error) {
	if identity.ID == "" {
		return "", fmt.Errorf("user id is required")
	}
	role := identity.Role
	if role == "" {
		role = model.RoleCustomer
	}
	now := v.now()
	claims := &Claims{
		UserID: string(identity.ID),
		Role:   string(role),
		Name:   identity.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(identity.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.key)
}

// Verify parses and validates token. Every failure wraps model.ErrUnauthenticated.
func (v *JWTVerifier) Verify(_ context.Context, token string) (model.UserIdentity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.UserIdentity{}, fmt.Errorf("%w: no token provided", model.ErrUnauthenticated)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return model.UserIdentity{}, fmt.Errorf("%w: %v", model.ErrUnauthenticated, err)
	}
	if !parsed.Valid {
		return model.UserIdentity{}, fmt.Errorf("%w: invalid token", model.ErrUnauthenticated)
	}
	if claims.UserID == "" {
		return model.UserIdentity{}, fmt.Errorf("%w: token has no user_id", model.ErrUnauthenticated)
	}
	role := model.Role(claims.Role)
	if !role.Valid() {
		return model.UserIdentity{}, fmt.Errorf("%w: unknown role %q", model.ErrUnauthenticated, claims.Role)
	}

	return model.UserIdentity{ID: model.UserID(claims.UserID), Role: role, Name: claims.Name}, nil
}
