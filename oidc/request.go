package oidc

import (
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

// ScopeOffline requests a refresh token from providers that gate refresh
// tokens behind an explicit scope. It is part of every request's scope set
// unless the scopes are overridden with WithScopes.
const ScopeOffline = "offline"

const (
	// DefaultRequestExpireIn is how long an authorization attempt may take
	// before its request expires, unless the caller picks a different
	// window.
	DefaultRequestExpireIn = 10 * time.Minute

	// DefaultRequestExpirySkew is subtracted from a request's expiration
	// when checking IsExpired, so a request nearing its deadline is
	// treated as already expired.
	DefaultRequestExpirySkew = 1 * time.Second
)

// Request basically represents one OIDC authentication attempt. Every
// Request carries a unique flow id, a unique state and nonce, and a fresh
// PKCE code verifier. Requests are single use: starting a new attempt means
// creating a new Request, never recycling an old one.
//
// Request implementations must be read-only and safe for concurrent use.
type Request interface {
	// Id is the correlation id for the flow this Request belongs to. The
	// id ties a pending attempt to the channel completion that finishes
	// it.
	Id() string

	// State is the unique/opaque oauth2 state round-tripped through the
	// provider. It must never equal the Nonce.
	State() string

	// Nonce is the unique nonce embedded in the id_token, bound to this
	// attempt during verification.
	Nonce() string

	// RedirectURL is where the provider will send the authorization
	// response for this attempt.
	RedirectURL() string

	// Scopes returns the scopes requested, always including
	// oidc.ScopeOpenID exactly once.
	Scopes() []string

	// Audiences optionally restricts which audiences an id_token is
	// accepted for.
	Audiences() []string

	// UILocales optionally specifies the end user's preferred display
	// languages for the provider's pages.
	UILocales() []language.Tag

	// PKCEVerifier is the code verifier generated for this attempt. A
	// new verifier is generated for every Request.
	PKCEVerifier() string

	// Expiry is when the attempt expires.
	Expiry() time.Time

	// IsExpired reports whether the attempt has expired. Supported
	// options: WithNow, WithExpirySkew.
	IsExpired(opt ...Option) bool
}

// Req implements the Request interface.
type Req struct {
	id          string
	state       string
	nonce       string
	redirectURL string
	scopes      []string
	audiences   []string
	uiLocales   []language.Tag
	verifier    string
	expiration  time.Time
	nowFunc     func() time.Time
}

// ensure that Req implements the Request interface.
var _ Request = (*Req)(nil)

// NewRequest creates a new Request for one authentication attempt.
// expireIn bounds how long the attempt may take (see
// DefaultRequestExpireIn for a reasonable window) and redirectURL is where
// the provider will deliver the response.
//
// The Request's id, state and nonce are generated fresh, as is its PKCE
// code verifier. Its scopes always include oidc.ScopeOpenID and default to
// additionally requesting ScopeOffline; WithScopes replaces the additional
// scopes (openid is still prepended and duplicates are dropped).
//
// Supported options: WithNow, WithScopes, WithAudiences, WithUILocales,
// WithExpirySkew.
func NewRequest(expireIn time.Duration, redirectURL string, opt ...Option) (*Req, error) {
	const op = "oidc.NewRequest"
	if expireIn == 0 || expireIn < 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	if redirectURL == "" {
		return nil, fmt.Errorf("%s: missing redirect URL: %w", op, ErrInvalidParameter)
	}
	opts := getReqOpts(opt...)

	id, err := NewId(WithPrefix("flow"))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate an id: %w", op, err)
	}
	state, err := NewId(WithPrefix("st"))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a state: %w", op, err)
	}
	nonce, err := NewId(WithPrefix("n"))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a nonce: %w", op, err)
	}

	r := &Req{
		id:          id,
		state:       state,
		nonce:       nonce,
		redirectURL: redirectURL,
		scopes:      normalizeScopes(opts.withScopes),
		audiences:   opts.withAudiences,
		uiLocales:   opts.withUILocales,
		verifier:    oauth2.GenerateVerifier(),
		nowFunc:     opts.withNowFunc,
	}
	r.expiration = r.now().Add(expireIn)
	return r, nil
}

// Id implements the Request.Id() interface function.
func (r *Req) Id() string { return r.id }

// State implements the Request.State() interface function.
func (r *Req) State() string { return r.state }

// Nonce implements the Request.Nonce() interface function.
func (r *Req) Nonce() string { return r.nonce }

// RedirectURL implements the Request.RedirectURL() interface function.
func (r *Req) RedirectURL() string { return r.redirectURL }

// Scopes implements the Request.Scopes() interface function.
func (r *Req) Scopes() []string { return r.scopes }

// Audiences implements the Request.Audiences() interface function.
func (r *Req) Audiences() []string { return r.audiences }

// UILocales implements the Request.UILocales() interface function.
func (r *Req) UILocales() []language.Tag { return r.uiLocales }

// PKCEVerifier implements the Request.PKCEVerifier() interface function.
func (r *Req) PKCEVerifier() string { return r.verifier }

// Expiry implements the Request.Expiry() interface function.
func (r *Req) Expiry() time.Time { return r.expiration }

// IsExpired implements the Request.IsExpired() interface function.
// Supported options: WithNow, WithExpirySkew.
func (r *Req) IsExpired(opt ...Option) bool {
	opts := getReqOpts(opt...)
	now := r.now
	if opts.withNowFunc != nil {
		now = opts.withNowFunc
	}
	skew := DefaultRequestExpirySkew
	if opts.withExpirySkew != nil {
		skew = *opts.withExpirySkew
	}
	return r.expiration.Before(now().Add(skew))
}

// now returns the current time, using the request's time source when one
// was set with WithNow.
func (r *Req) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now()
}

// normalizeScopes builds the scope set for a request: oidc.ScopeOpenID
// first, then the additional scopes in their given order with duplicates
// and empty entries dropped. The result is always a fresh slice.
func normalizeScopes(additional []string) []string {
	scopes := make([]string, 0, len(additional)+1)
	seen := map[string]bool{}
	for _, s := range append([]string{oidc.ScopeOpenID}, additional...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		scopes = append(scopes, s)
	}
	return scopes
}

// reqOptions is the set of available options for Req functions.
type reqOptions struct {
	withNowFunc    func() time.Time
	withScopes     []string
	withAudiences  []string
	withUILocales  []language.Tag
	withExpirySkew *time.Duration
}

// reqDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func reqDefaults() reqOptions {
	return reqOptions{
		withScopes: []string{ScopeOffline},
	}
}

// getReqOpts gets the request defaults and applies the opt overrides passed
// in.
func getReqOpts(opt ...Option) reqOptions {
	opts := reqDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithUILocales provides an optional list of locales, ordered by
// preference, for the provider to render its pages in.
//
// Valid for: Req
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			if len(locales) > 0 {
				o.withUILocales = locales
			}
		}
	}
}
