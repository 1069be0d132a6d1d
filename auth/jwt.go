package auth

import (
	"errors"
	"time"
	"widget-sync-engine/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// GenerateJWT issues a token for an already-authenticated user. The engine
// never manages credentials; this exists for the external identity provider
// integration and for tests.
func GenerateJWT(userID string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour * 24 * 3).Unix(), // expires in 3 days
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

// VerifyJWT parses and validates a token, returning the user_id claim.
func VerifyJWT(tokenString string) (string, error) {
	jwtToken, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.AppConfig.JWTSecret), nil
	})

	if err != nil {
		return "", err
	}

	if !jwtToken.Valid {
		return "", errors.New("token invalid")
	}

	claims, ok := jwtToken.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("token claims invalid")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", errors.New("token missing user_id")
	}

	return userID, nil
}
