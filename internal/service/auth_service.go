package service

import (
	"fmt"
	"time"

	"tutorcall/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

// AuthService validates the bearer tokens issued by the account service
type AuthService struct {
	jwtSecret []byte
}

// NewAuthService creates a new auth service
func NewAuthService(secret string) *AuthService {
	return &AuthService{
		jwtSecret: []byte(secret),
	}
}

// ValidateToken validates a participant JWT and returns its claims
func (s *AuthService) ValidateToken(tokenString string) (*model.ParticipantClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &model.ParticipantClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*model.ParticipantClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	userType, ok := model.ParseUserType(string(claims.UserType))
	if !ok {
		return nil, ErrInvalidToken
	}
	claims.UserType = userType

	return claims, nil
}

// IssueToken signs a participant token. Production tokens come from the account
// service; this is used by the seed tool and tests.
func (s *AuthService) IssueToken(identity string, userType model.UserType, ttl time.Duration) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("issue token: empty identity")
	}
	now := time.Now()
	claims := &model.ParticipantClaims{
		UserType: userType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
