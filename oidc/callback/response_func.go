package callback

import (
	"net/http"

	"github.com/keyhaven/chainauth/oidc"
)

// SuccessResponseFunc renders the response for a settled callback. The
// Token is the session the Manager now holds; the function should use the
// http.ResponseWriter to send back whatever content (headers, html, JSON)
// it wishes the user's browser to see.
type SuccessResponseFunc func(t oidc.Token, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc renders the response for a callback that failed. The
// error is what Manager.SignInCallback reported; oidc.KindOf classifies
// it, and when the provider signaled the failure the provider's error
// code and description are available via errors.As on *oidc.Err.
type ErrorResponseFunc func(err error, w http.ResponseWriter, req *http.Request)
