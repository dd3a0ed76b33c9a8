package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-multierror"
)

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client
// secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Endpoints is the immutable set of provider URLs a Manager talks to. The
// UserInfo and Revocation endpoints are optional; operations that need an
// absent endpoint fail before any request is made.
type Endpoints struct {
	// Authorization is the provider's authorization endpoint, where the user's
	// browser surface is sent to authenticate.
	Authorization string

	// Token is the provider's token endpoint, which exchanges authorization
	// codes and refresh tokens.
	Token string

	// UserInfo is the provider's userinfo endpoint.
	UserInfo string

	// Revocation is the provider's logout endpoint, called with bearer auth on
	// SignOut.
	Revocation string
}

// DefaultEndpoints returns the endpoints of the hosted provider, used when a
// Config is built without WithEndpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Authorization: "https://auth.keyhaven.network/oauth2/auth",
		Token:         "https://auth.keyhaven.network/oauth2/token",
		UserInfo:      "https://auth.keyhaven.network/userinfo",
		Revocation:    "https://auth.keyhaven.network/oauth2/sessions/logout",
	}
}

// Config represents the configuration for an authorization code flow client.
// It is supplied once at Manager construction and treated as immutable after
// that.
type Config struct {
	// ClientId is the relying party id.
	ClientId string

	// ClientSecret is the relying party secret. It's optional: public clients
	// (the common case for this SDK) don't carry one.
	ClientSecret ClientSecret

	// Endpoints are the provider URLs. DefaultEndpoints() when not provided.
	Endpoints Endpoints

	// RedirectURL is the URL the provider sends the authorization response
	// back to.
	RedirectURL string

	// Scopes is a list of additional oidc scopes to request of the provider.
	// The required "openid" scope is always requested and must not be part of
	// this list. Defaults to [offline], which enables refresh tokens.
	Scopes []string

	// Audiences is an optional list of case-sensitive strings to request
	// access for, and to verify against an id_token's "aud" claim.
	Audiences []string

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string

	// Issuer is set when the config was built via NewConfigFromIssuer. A
	// non-empty Issuer enables id_token verification.
	Issuer string

	// SupportedSigningAlgs is the list of id_token signing algorithms accepted
	// during verification. Defaults to [RS256].
	SupportedSigningAlgs []Alg
}

// NewConfig composes a new config. Supported options: WithEndpoints,
// WithClientSecret, WithScopes, WithAudiences, WithProviderCA,
// WithSigningAlgs
func NewConfig(clientId string, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ClientId:             clientId,
		ClientSecret:         opts.withClientSecret,
		Endpoints:            opts.withEndpoints,
		RedirectURL:          redirectURL,
		Scopes:               opts.withScopes,
		Audiences:            opts.withAudiences,
		ProviderCA:           opts.withProviderCA,
		SupportedSigningAlgs: opts.withSigningAlgs,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return c, nil
}

// NewConfigFromIssuer composes a new config, discovering the provider's
// endpoints from the issuer's well-known configuration document. It makes an
// http request to the issuer. The same options as NewConfig are supported;
// WithEndpoints is ignored in favor of the discovered endpoints.
func NewConfigFromIssuer(ctx context.Context, issuer string, clientId string, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfigFromIssuer"
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidIssuer)
	}
	opts := getConfigOpts(opt...)
	client, err := newHTTPClient(opts.withProviderCA)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	provider, err := oidc.NewProvider(HTTPClientContext(ctx, client), issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to discover provider configuration: %w", op, err)
	}
	var doc struct {
		AuthorizationEndpoint string `json:"authorization_endpoint"`
		TokenEndpoint         string `json:"token_endpoint"`
		UserInfoEndpoint      string `json:"userinfo_endpoint"`
		RevocationEndpoint    string `json:"revocation_endpoint"`
		EndSessionEndpoint    string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&doc); err != nil {
		return nil, fmt.Errorf("%s: unable to read discovery document: %w", op, err)
	}
	revocation := doc.RevocationEndpoint
	if revocation == "" {
		revocation = doc.EndSessionEndpoint
	}
	c, err := NewConfig(clientId, redirectURL, append(opt, WithEndpoints(Endpoints{
		Authorization: doc.AuthorizationEndpoint,
		Token:         doc.TokenEndpoint,
		UserInfo:      doc.UserInfoEndpoint,
		Revocation:    revocation,
	}))...)
	if err != nil {
		return nil, err
	}
	c.Issuer = issuer
	return c, nil
}

// Validate the config. All failed checks are reported, not just the first.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil: %w", ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientId == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if err := validateURL("redirect URL", c.RedirectURL, true); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validateURL("authorization endpoint", c.Endpoints.Authorization, true); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validateURL("token endpoint", c.Endpoints.Token, true); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validateURL("userinfo endpoint", c.Endpoints.UserInfo, false); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validateURL("revocation endpoint", c.Endpoints.Revocation, false); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validateURL("issuer", c.Issuer, false); err != nil {
		result = multierror.Append(result, err)
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			result = multierror.Append(result, fmt.Errorf("unsupported algorithm %q: %w", a, ErrUnsupportedAlg))
		}
	}
	return result.ErrorOrNil()
}

// validateURL checks that raw parses as an http or https URL. Empty values
// are only an error when the URL is required.
func validateURL(name string, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%s is empty: %w", name, ErrInvalidParameter)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s %q is invalid: %w", name, raw, ErrInvalidParameter)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s %q scheme is not http or https: %w", name, raw, ErrInvalidParameter)
	}
	return nil
}

// HTTPClient returns a new http client for the provider configured, using the
// ProviderCA when one is set.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := newHTTPClient(c.ProviderCA)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return client, nil
}

// configOptions is the set of available options for Config functions
type configOptions struct {
	withEndpoints    Endpoints
	withClientSecret ClientSecret
	withScopes       []string
	withAudiences    []string
	withProviderCA   string
	withSigningAlgs  []Alg
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{
		withEndpoints:   DefaultEndpoints(),
		withScopes:      []string{ScopeOffline},
		withSigningAlgs: []Alg{RS256},
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithEndpoints provides the provider endpoints for a config, overriding
// DefaultEndpoints().
func WithEndpoints(e Endpoints) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withEndpoints = e
		}
	}
}

// WithClientSecret provides an optional client secret for a config, for
// confidential clients.
func WithClientSecret(s ClientSecret) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientSecret = s
		}
	}
}

// WithScopes provides an optional list of scopes for: Config, NewRequest.
// When used with a config it replaces the default additional scope
// (ScopeOffline), so WithScopes() with no arguments requests only "openid".
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withScopes = scopes
		case *reqOptions:
			v.withScopes = scopes
		}
	}
}

// WithAudiences provides an optional list of audiences for: Config, NewRequest
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withAudiences = auds
		case *reqOptions:
			v.withAudiences = auds
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithSigningAlgs provides the optional list of accepted id_token signing
// algorithms for the provider's config
func WithSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSigningAlgs = algs
		}
	}
}
