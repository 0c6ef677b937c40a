package identity

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCredential is returned when the locally stored credential cannot
// be decoded or does not carry a user id. Callers should treat it as "not
// authenticated" and halt session initialization.
var ErrInvalidCredential = errors.New("invalid credential")

// Resolve extracts the stable user id from an opaque JWT-style credential by
// decoding its payload segment locally. No network round-trip and no
// signature verification: the backend remains authoritative, this id is only
// used to attribute optimistic records.
func Resolve(credential string) (string, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	parts := strings.Split(credential, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected three segments", ErrInvalidCredential)
	}
	payload, err := decodeSegment(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	var claims map[string]json.RawMessage
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("%w: payload is not an object", ErrInvalidCredential)
	}
	for _, key := range []string{"user_id", "userId", "sub"} {
		raw, ok := claims[key]
		if !ok {
			continue
		}
		if id := decodeClaim(raw); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no user id claim", ErrInvalidCredential)
}

// decodeSegment handles both padded and raw base64url payloads; tokens in
// the wild come in both forms.
func decodeSegment(seg string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(seg); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(seg)
}

// decodeClaim accepts a string or numeric id claim.
func decodeClaim(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return ""
}
