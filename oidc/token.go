package oidc

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenExpirySkew is subtracted from a token's expiration when
// checking IsExpired, so a token about to expire is treated as already
// expired instead of failing its first use.
const DefaultTokenExpirySkew = 10 * time.Second

// Token interface represents the result of a completed authentication
// attempt: an id_token plus the oauth2 access/refresh tokens issued with
// it.
//
// Token implementations must be read-only and safe for concurrent use.
type Token interface {
	// RefreshToken returns the token's refresh_token, or an empty
	// RefreshToken when the provider issued none.
	RefreshToken() RefreshToken

	// AccessToken returns the token's access_token.
	AccessToken() AccessToken

	// IdToken returns the token's id_token.
	IdToken() IdToken

	// TokenType returns the access token's type ("Bearer" unless the
	// provider said otherwise).
	TokenType() string

	// Expiry returns when the access_token expires. A zero time means
	// the token never expires.
	Expiry() time.Time

	// IsExpired reports whether the access_token has expired, treating
	// tokens within DefaultTokenExpirySkew of their deadline as
	// expired. Supported options: WithNow, WithExpirySkew.
	IsExpired(opt ...Option) bool

	// Valid reports whether the token has an unexpired access_token.
	Valid() bool

	// StaticTokenSource returns a TokenSource that always returns the
	// token's underlying oauth2 access/refresh tokens, so callers can
	// use packages that want an oauth2.TokenSource. It returns nil when
	// there is no underlying access token.
	StaticTokenSource() oauth2.TokenSource
}

// Tk implements the Token interface.
type Tk struct {
	idToken    IdToken
	underlying *oauth2.Token
	nowFunc    func() time.Time
	expirySkew time.Duration
}

// ensure that Tk implements the Token interface.
var _ Token = (*Tk)(nil)

// NewToken creates a new Token. The id_token is required and the oauth2
// token may be nil when the provider issued no access token.
//
// Supported options: WithNow, WithExpirySkew.
func NewToken(idToken IdToken, t *oauth2.Token, opt ...Option) (*Tk, error) {
	const op = "oidc.NewToken"
	if idToken == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	opts := getTokenOpts(opt...)
	skew := DefaultTokenExpirySkew
	if opts.withExpirySkew != nil {
		skew = *opts.withExpirySkew
	}
	return &Tk{
		idToken:    idToken,
		underlying: t,
		nowFunc:    opts.withNowFunc,
		expirySkew: skew,
	}, nil
}

// RefreshToken implements the Token.RefreshToken() interface function.
func (t *Tk) RefreshToken() RefreshToken {
	if t.underlying == nil {
		return ""
	}
	return RefreshToken(t.underlying.RefreshToken)
}

// AccessToken implements the Token.AccessToken() interface function.
func (t *Tk) AccessToken() AccessToken {
	if t.underlying == nil {
		return ""
	}
	return AccessToken(t.underlying.AccessToken)
}

// IdToken implements the Token.IdToken() interface function.
func (t *Tk) IdToken() IdToken { return t.idToken }

// TokenType implements the Token.TokenType() interface function.
func (t *Tk) TokenType() string {
	if t.underlying == nil {
		return ""
	}
	return t.underlying.Type()
}

// Expiry implements the Token.Expiry() interface function.
func (t *Tk) Expiry() time.Time {
	if t.underlying == nil {
		return time.Time{}
	}
	return t.underlying.Expiry
}

// IsExpired implements the Token.IsExpired() interface function.
// Supported options: WithNow, WithExpirySkew.
func (t *Tk) IsExpired(opt ...Option) bool {
	exp := t.Expiry()
	if exp.IsZero() {
		return false
	}
	opts := getTokenOpts(opt...)
	now := t.now
	if opts.withNowFunc != nil {
		now = opts.withNowFunc
	}
	skew := t.expirySkew
	if opts.withExpirySkew != nil {
		skew = *opts.withExpirySkew
	}
	return exp.Round(0).Before(now().Add(skew))
}

// Valid implements the Token.Valid() interface function.
func (t *Tk) Valid() bool {
	if t == nil || t.underlying == nil {
		return false
	}
	if t.underlying.AccessToken == "" {
		return false
	}
	return !t.IsExpired()
}

// StaticTokenSource implements the Token.StaticTokenSource() interface
// function.
func (t *Tk) StaticTokenSource() oauth2.TokenSource {
	if t.underlying == nil {
		return nil
	}
	return oauth2.StaticTokenSource(t.underlying)
}

// now returns the current time, using the token's time source when one was
// set with WithNow.
func (t *Tk) now() time.Time {
	if t.nowFunc != nil {
		return t.nowFunc()
	}
	return time.Now()
}

// tokenOptions is the set of available options for Token functions.
type tokenOptions struct {
	withNowFunc    func() time.Time
	withExpirySkew *time.Duration
}

// tokenDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{}
}

// getTokenOpts gets the token defaults and applies the opt overrides
// passed in.
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
