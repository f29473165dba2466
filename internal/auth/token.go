package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/textpulse/sms-marketing-backend/internal/config"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the authenticated caller: a user acting within one
// organization. Every campaign operation is scoped by OrganizationID.
type Identity struct {
	UserID         int
	OrganizationID int
	Email          string
}

// TokenService issues and verifies HMAC-signed bearer tokens.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
}

func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{
		secret:    []byte(cfg.Secret),
		expiresIn: time.Duration(cfg.ExpiresIn) * time.Second,
	}
}

// GenerateToken creates a signed token carrying the user and organization.
func (s *TokenService) GenerateToken(userID, organizationID int, email string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   fmt.Sprintf("%d", userID),
		"org":   organizationID,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// GetUserFromToken verifies a bearer token and returns the identity it
// carries, or ErrInvalidToken when the token is missing, malformed,
// expired or signed with the wrong key.
func (s *TokenService) GetUserFromToken(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	identity := &Identity{}
	if sub, ok := claims["sub"].(string); ok {
		fmt.Sscanf(sub, "%d", &identity.UserID)
	}
	if org, ok := claims["org"].(float64); ok {
		identity.OrganizationID = int(org)
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if identity.UserID == 0 || identity.OrganizationID == 0 {
		return nil, ErrInvalidToken
	}
	return identity, nil
}
