package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthenticated is the root of every credential failure.
	ErrUnauthenticated = errors.New("unauthenticated")

	ErrMissingToken = fmt.Errorf("%w: missing token", ErrUnauthenticated)
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	ErrExpiredToken = fmt.Errorf("%w: token expired", ErrUnauthenticated)
)

// Identity is the user a credential resolves to.
type Identity struct {
	UserID   uint64
	Username string
	Email    string
}

type Claims struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func SignJWT(id Identity, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:       id.UserID,
		Username: id.Username,
		Email:    id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(id.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseJWT verifies signature and expiry and returns the embedded identity.
func ParseJWT(tokenStr, secret string) (Identity, error) {
	if tokenStr == "" {
		return Identity{}, ErrMissingToken
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == 0 {
		return Identity{}, fmt.Errorf("%w: no user id claim", ErrInvalidToken)
	}
	return Identity{UserID: claims.ID, Username: claims.Username, Email: claims.Email}, nil
}
