// Package identity resolves a client's identity from validated JWT claims,
// consumed upstream of rate limiting (spec §4.6).
package identity

import "github.com/tidwall/gjson"

// ClientIdentity is attached to a request's context when the configured
// claim path resolves to a non-empty value; otherwise identity extraction
// is a no-op and requests remain anonymous for rate-limiting purposes.
type ClientIdentity struct {
	ClientID string
	Group    string
}

// Authenticator validates a bearer token and returns its claims as a JSON
// document. The OAuth2/JWKS poller that produces a trustworthy
// Authenticator is explicitly out of scope (spec.md non-goals); this
// interface is the pluggable boundary, with PassthroughAuthenticator as a
// trivial default for tests and local development.
type Authenticator interface {
	Authenticate(token string) (claims []byte, err error)
}

// PassthroughAuthenticator treats the bearer token itself as the subject
// claim, performing no signature verification. It exists so the gateway
// runs end-to-end without a real identity provider wired in.
type PassthroughAuthenticator struct{}

func (PassthroughAuthenticator) Authenticate(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	claims := gjson.Parse(`{}`).String()
	_ = claims
	return []byte(`{"sub":"` + token + `"}`), nil
}

// GetClaim resolves a dotted path ("sub", "user.plan") out of a JSON claims
// document, grounded on the original's Claims::get_claim. The path is
// handed to gjson unchanged, so gjson's array-index and wildcard syntax is
// accepted as well as plain nested object traversal.
func GetClaim(claims []byte, path string) (string, bool) {
	if len(claims) == 0 || path == "" {
		return "", false
	}
	result := gjson.GetBytes(claims, path)
	if !result.Exists() {
		return "", false
	}
	switch result.Type {
	case gjson.String:
		return result.String(), true
	case gjson.Number, gjson.True, gjson.False:
		return result.String(), true
	default:
		return "", false
	}
}

// Resolve builds a ClientIdentity from claims using the configured
// client-id and group claim paths. It returns ok=false (a no-op per spec)
// when the client-id path does not resolve.
func Resolve(claims []byte, clientIDPath, groupPath string) (ClientIdentity, bool) {
	clientID, ok := GetClaim(claims, clientIDPath)
	if !ok {
		return ClientIdentity{}, false
	}
	group, _ := GetClaim(claims, groupPath)
	return ClientIdentity{ClientID: clientID, Group: group}, true
}
