package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

type Claims struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	TenantID string `json:"tenantId"`
	jwt.RegisteredClaims
}

type User struct {
	ID       string
	Email    string
	TenantID string
}

// Issuer signs and verifies HS256 access tokens.
type Issuer struct {
	secret    []byte
	expiresIn time.Duration
	now       func() time.Time
}

func NewIssuer(secret string, expiresIn time.Duration) *Issuer {
	if expiresIn <= 0 {
		expiresIn = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), expiresIn: expiresIn, now: time.Now}
}

func (i *Issuer) Generate(user User) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   user.ID,
		Email:    user.Email,
		TenantID: user.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
