package auth

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// userIDClaims are checked in order; "sub" only counts when it is numeric.
var userIDClaims = []string{"userId", "uid", "sub"}

// UserIDFromToken reads the user id carried in the access token's claims.
// The signature is not verified here.
func UserIDFromToken(token string) (int64, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, false
	}

	for _, name := range userIDClaims {
		if id, ok := claimInt64(claims[name]); ok && id > 0 {
			return id, true
		}
	}
	return 0, false
}

func claimInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case float64:
		if val != float64(int64(val)) {
			return 0, false
		}
		return int64(val), true
	case json.Number:
		id, err := val.Int64()
		return id, err == nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}
