package oidc

import (
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IdToken is an oidc id_token.
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token.
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token.
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token.
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// Claims retrieves the IdToken payload claims into the given pointer,
// which may be a *map[string]interface{} or a struct with json tags.
//
// Claims does not verify the token's signature. Token verification happens
// during the authentication flow; see Config.Issuer.
func (t IdToken) Claims(claims interface{}) error {
	const op = "IdToken.Claims"
	if len(t) == 0 {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	parsed := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(string(t), parsed); err != nil {
		return fmt.Errorf("%s: malformed id_token: %v: %w", op, err, ErrInvalidParameter)
	}
	raw, err := json.Marshal(parsed)
	if err != nil {
		return fmt.Errorf("%s: unable to marshal the token's claims: %w", op, err)
	}
	if err := json.Unmarshal(raw, claims); err != nil {
		return fmt.Errorf("%s: unable to unmarshal the token's claims: %w", op, err)
	}
	return nil
}
