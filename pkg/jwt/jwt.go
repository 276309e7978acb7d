package jwt

import (
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// GenerateToken creates a signed HS256 token for a given user ID.
func GenerateToken(userID, secret string, ttl time.Duration) (string, error) {
	claims := gojwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(ttl).Unix(),
		"iat": time.Now().Unix(),
	}

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)

	return token.SignedString([]byte(secret))
}

// VerifyToken validates the signature and expiry of a token and returns
// the user ID it carries.
func VerifyToken(tokenString, secret string) (string, error) {
	token, err := gojwt.Parse(tokenString, func(token *gojwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}

	return subject(token)
}

// PeekUserID extracts the subject claim without verifying the signature.
// The client holds tokens issued by the backend and never knows the
// signing secret; the backend re-validates every request, so an
// unverified read is only used to scope local queries.
func PeekUserID(tokenString string) (string, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, gojwt.MapClaims{})
	if err != nil {
		return "", err
	}

	return subject(token)
}

func subject(token *gojwt.Token) (string, error) {
	claims, ok := token.Claims.(gojwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("token has no subject claim")
	}
	return sub, nil
}
