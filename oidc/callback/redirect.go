package callback

import (
	"fmt"
	"net/http"

	"github.com/keyhaven/chainauth/oidc"
)

// Redirect creates the handler for the route a redirect flow's redirect
// URL points at. It hands the incoming request's URL to the Manager,
// which matches it against the pending request persisted by
// BeginRedirect; only the URL's query is read, a response arriving in the
// fragment never reaches the server and can't settle anything.
//
// The handler answers provider redirects, which arrive as GET requests.
// Providers using the form_post response mode are not supported.
func Redirect(m *oidc.Manager, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.Redirect"
	switch {
	case m == nil:
		return nil, fmt.Errorf("%s: manager is nil: %w", op, oidc.ErrNilParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrNilParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrNilParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		tk, err := m.SignInCallback(req.Context(), oidc.ChannelRedirect, req.URL.String())
		if err != nil {
			eFn(err, w, req)
			return
		}
		sFn(tk, w, req)
	}, nil
}
