package dddgerman

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// claims the platform has been observed to store its user identifier
// under, in order of preference
var userIdClaims = []string{"sub", "userId", "user_id", "id", "email"}

// userIdFromToken decodes the payload segment of a bearer JWT without
// verifying its signature (the platform verifies it server-side; we
// only need the identity it encodes) and extracts the user identifier.
func userIdFromToken(token string) (string, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return "", fmt.Errorf("%w: malformed bearer token: %v", ErrAuthentication, err)
	}

	for _, key := range userIdClaims {
		value, ok := claims[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return strconv.FormatInt(int64(v), 10), nil
		}
	}

	return "", fmt.Errorf("%w: token payload carries no user identifier", ErrAuthentication)
}
