package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Codewithjainam7/EduHubPro/internal/config"
	"github.com/Codewithjainam7/EduHubPro/internal/store"
)

// GenerateSessionToken mints the API session token for a logged-in
// identity. The subject is the identity's storage namespace key.
func GenerateSessionToken(id store.Identity) (string, error) {
	claims := jwt.MapClaims{
		"sub":   id.Key(),
		"name":  id.DisplayName,
		"guest": id.Guest,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour * 24).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

// ValidateSessionToken returns the identity namespace key carried by a
// session token.
func ValidateSessionToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		sub, _ := claims["sub"].(string)
		if sub == "" {
			return "", fmt.Errorf("token missing subject")
		}
		return sub, nil
	}
	return "", fmt.Errorf("invalid token")
}
