package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrForbidden     = errors.New("insufficient role")
)

// Operator roles, lowest to highest.
const (
	RoleViewer   = 0
	RoleOperator = 1
	RoleAdmin    = 2
)

const issuer = "cdex-judge"

// Claims identify the operator or upstream service calling the judge API.
type Claims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  int    `json:"role"`
	jwt.RegisteredClaims
}

// JWTValidator verifies and issues HS256 operator tokens.
type JWTValidator struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

func (v *JWTValidator) ValidateToken(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case !token.Valid || claims.Sub == "":
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

// IssueToken signs an HS256 token for sub valid for ttl.
func (v *JWTValidator) IssueToken(sub, email string, role int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Sub:   sub,
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (c *Claims) GetUserID() string {
	return c.Sub
}

// HasRole reports whether the caller's role is at least min.
func (c *Claims) HasRole(min int) bool {
	return c.Role >= min
}
