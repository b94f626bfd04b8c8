package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const TokenTTL = time.Hour

// GenerateToken signs a session token for the user.
func GenerateToken(userID, jwtSecret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(TokenTTL).Unix(),
	})
	return token.SignedString([]byte(jwtSecret))
}
