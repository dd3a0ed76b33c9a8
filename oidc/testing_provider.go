package oidc

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local http test server that plays the provider's part
// in the flows this package runs: discovery, authorization, token
// exchange with PKCE, refresh, userinfo and logout. It makes writing
// tests against a "real" provider much easier.
//
// By default the authorization endpoint denies everything; tests opt in
// to success with SetExpectedAuthCode. All the Set* knobs are safe for
// concurrent use with in-flight requests.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks            *jose.JSONWebKeySet
	ecdsaPublicKey  string
	ecdsaPrivateKey string

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	allowedRedirectURIs []string
	replySubject        string
	replyUserinfo       map[string]interface{}
	replyExpiry         time.Duration
	replyRefreshToken   string
	customClaims        map[string]interface{}
	customAudience      string
	omitIdTokens        bool
	omitAccessTokens    bool
	omitRefreshTokens   bool
	disableUserInfo     bool
	silentSession       bool
	authDelay           time.Duration
	tokenReplyOverride  *testReplyOverride
	logoutCount         int
	lastLogoutBearer    string

	// pkceChallenge and lastNonce are what the last authorization request
	// carried; the token endpoint checks the verifier against the
	// challenge and echoes the nonce into the id_token.
	pkceChallenge string
	lastNonce     string

	t *testing.T
}

type testReplyOverride struct {
	statusCode int
	body       string
}

// StartTestProvider creates and starts a disposable TestProvider on a TLS
// test server. The server is stopped when the test (and its subtests)
// complete. Supported options: WithTestPort.
func StartTestProvider(t *testing.T, opt ...Option) *TestProvider {
	t.Helper()
	require := require.New(t)
	opts := getTestProviderOpts(opt...)

	p := &TestProvider{
		t:                   t,
		allowedRedirectURIs: []string{"https://example.com/callback"},
		replySubject:        "alice@example.com",
		replyUserinfo: map[string]interface{}{
			"sub":            "alice@example.com",
			"name":           "Alice Doe",
			"email":          "alice@example.com",
			"email_verified": true,
		},
		replyExpiry:       time.Hour,
		replyRefreshToken: "refresh_1234567890",
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	if opts.withPort != 0 {
		p.httpServer = httptestNewUnstartedServerWithPort(t, p, opts.withPort)
	} else {
		p.httpServer = httptest.NewUnstartedServer(p)
	}
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.Stop)

	cert := p.httpServer.Certificate()
	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the base URL of the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test
// provider's HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign
// id_tokens.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// HttpClient returns an http client that trusts the test provider's TLS
// certificate.
func (p *TestProvider) HttpClient() *http.Client {
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM([]byte(p.caCert))
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		},
	}
}

// SetClientCreds configures the client credentials the token endpoint
// requires.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the code the authorization endpoint
// issues, which is also the only code the token endpoint accepts. An
// empty code makes the authorization endpoint deny with access_denied.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAllowedRedirectURIs configures the redirect URIs the provider
// accepts. The default is just "https://example.com/callback".
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetCustomClaims configures extra claims for the issued id_tokens.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// SetCustomAudience overrides the id_token's audience, which otherwise is
// the configured client id.
func (p *TestProvider) SetCustomAudience(aud string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = aud
}

// SetReplyUserinfo configures the userinfo endpoint's reply.
func (p *TestProvider) SetReplyUserinfo(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = claims
}

// SetReplyExpiry configures the lifetime of issued tokens.
func (p *TestProvider) SetReplyExpiry(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiry = d
}

// SetOmitIdTokens forces token replies without an id_token.
func (p *TestProvider) SetOmitIdTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIdTokens = omit
}

// SetOmitAccessTokens forces token replies without an access_token.
func (p *TestProvider) SetOmitAccessTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAccessTokens = omit
}

// SetOmitRefreshTokens forces token replies without a refresh_token.
func (p *TestProvider) SetOmitRefreshTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshTokens = omit
}

// SetDisableUserInfo makes the userinfo endpoint return 404 and drops it
// from the discovery document.
func (p *TestProvider) SetDisableUserInfo(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = disable
}

// SetSilentSession configures whether the provider holds a session it can
// answer prompt=none authorization requests from. Without one those
// requests are denied with login_required.
func (p *TestProvider) SetSilentSession(has bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silentSession = has
}

// SetAuthDelay makes the authorization endpoint sleep before answering,
// for exercising delivery timeouts.
func (p *TestProvider) SetAuthDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authDelay = d
}

// SetTokenReply overrides the token endpoint with a raw reply, for
// exercising reply parsing.
func (p *TestProvider) SetTokenReply(statusCode int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenReplyOverride = &testReplyOverride{statusCode: statusCode, body: body}
}

// LogoutCount reports how many logout requests the provider received.
func (p *TestProvider) LogoutCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logoutCount
}

// LastLogoutBearer reports the bearer token of the last logout request.
func (p *TestProvider) LastLogoutBearer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLogoutBearer
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

// writeAuthErrorResponse sends the authorization error as a redirect to
// the request's redirect_uri, the way providers answer a user's browser.
func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	delay := p.authDelay
	p.mu.Unlock()
	if delay > 0 && req.URL.Path == "/authorize" {
		time.Sleep(delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		reply := struct {
			Issuer             string   `json:"issuer"`
			AuthEndpoint       string   `json:"authorization_endpoint"`
			TokenEndpoint      string   `json:"token_endpoint"`
			JWKSURI            string   `json:"jwks_uri"`
			UserinfoEndpoint   string   `json:"userinfo_endpoint,omitempty"`
			EndSessionEndpoint string   `json:"end_session_endpoint"`
			IdTokenSigningAlgs []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:             p.Addr(),
			AuthEndpoint:       p.Addr() + "/authorize",
			TokenEndpoint:      p.Addr() + "/token",
			JWKSURI:            p.Addr() + "/.well-known/jwks.json",
			UserinfoEndpoint:   p.Addr() + "/userinfo",
			EndSessionEndpoint: p.Addr() + "/logout",
			IdTokenSigningAlgs: []string{string(ES256)},
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}

		_ = p.writeJSON(w, &reply)

	case "/.well-known/jwks.json":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/authorize":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		qv := req.URL.Query()

		if qv.Get("response_type") != "code" {
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		}
		if !StrListContains(strings.Fields(qv.Get("scope")), "openid") {
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		}

		state := qv.Get("state")
		if state == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		}
		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}
		if !StrListContains(p.allowedRedirectURIs, redirectURI) {
			p.writeAuthErrorResponse(w, req, "invalid_request", "redirect_uri is not allowed")
			return
		}

		if challenge := qv.Get("code_challenge"); challenge != "" {
			if qv.Get("code_challenge_method") != "S256" {
				p.writeAuthErrorResponse(w, req, "invalid_request", "plain code_challenge_method is not allowed")
				return
			}
			p.pkceChallenge = challenge
		}
		p.lastNonce = qv.Get("nonce")

		if qv.Get("prompt") == "none" && !p.silentSession {
			p.writeAuthErrorResponse(w, req, "login_required", "no session to answer from")
			return
		}
		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}

		redirectURI += "?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)

		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		if p.tokenReplyOverride != nil {
			w.WriteHeader(p.tokenReplyOverride.statusCode)
			_, _ = w.Write([]byte(p.tokenReplyOverride.body))
			return
		}

		if p.clientID != "" && req.FormValue("client_id") != p.clientID {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unexpected client_id")
			return
		}
		if p.clientSecret != "" && req.FormValue("client_secret") != p.clientSecret {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unexpected client_secret")
			return
		}

		var withNonce bool
		switch req.FormValue("grant_type") {
		case "authorization_code":
			if !StrListContains(p.allowedRedirectURIs, req.FormValue("redirect_uri")) {
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
				return
			}
			if req.FormValue("code") != p.expectedAuthCode {
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected authorization code")
				return
			}
			if p.pkceChallenge != "" {
				if oauth2.S256ChallengeFromVerifier(req.FormValue("code_verifier")) != p.pkceChallenge {
					_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "code_verifier doesn't match the code_challenge")
					return
				}
			}
			withNonce = true
		case "refresh_token":
			if req.FormValue("refresh_token") != p.replyRefreshToken {
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected refresh_token")
				return
			}
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
			return
		}

		jwtData := p.issueIdToken(withNonce)

		reply := struct {
			AccessToken  string `json:"access_token,omitempty"`
			TokenType    string `json:"token_type"`
			ExpiresIn    int64  `json:"expires_in"`
			RefreshToken string `json:"refresh_token,omitempty"`
			IdToken      string `json:"id_token,omitempty"`
		}{
			AccessToken:  jwtData,
			TokenType:    "Bearer",
			ExpiresIn:    int64(p.replyExpiry.Seconds()),
			RefreshToken: p.replyRefreshToken,
			IdToken:      jwtData,
		}
		if p.omitIdTokens {
			reply.IdToken = ""
		}
		if p.omitAccessTokens {
			reply.AccessToken = ""
		}
		if p.omitRefreshTokens {
			reply.RefreshToken = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.replyUserinfo)

	case "/logout":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.logoutCount++
		p.lastLogoutBearer = strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		_ = p.writeJSON(w, struct{}{})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// issueIdToken signs an id_token for the configured subject and client.
// The caller must hold p.mu.
func (p *TestProvider) issueIdToken(withNonce bool) string {
	stdClaims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-5 * time.Second)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		Expiry:    jwt.NewNumericDate(time.Now().Add(p.replyExpiry)),
		Audience:  jwt.Audience{p.clientID},
	}
	if p.customAudience != "" {
		stdClaims.Audience = jwt.Audience{p.customAudience}
	}
	privateClaims := map[string]interface{}{}
	for k, v := range p.customClaims {
		privateClaims[k] = v
	}
	if withNonce && p.lastNonce != "" {
		privateClaims["nonce"] = p.lastNonce
	}
	return TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, privateClaims)
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for
// the verification endpoint's response.
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key: pub,
			},
		},
	}
}

// httptestNewUnstartedServerWithPort is roughly the same as
// httptest.NewUnstartedServer() but binds the given port.
func httptestNewUnstartedServerWithPort(t *testing.T, handler http.Handler, port int) *httptest.Server {
	t.Helper()
	require := require.New(t)
	require.NotEmpty(port)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	require.NoError(err)

	return &httptest.Server{
		Listener: l,
		Config:   &http.Server{Handler: handler},
	}
}

// testProviderOptions is the set of available options for StartTestProvider
type testProviderOptions struct {
	withPort int
}

// testProviderDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func testProviderDefaults() testProviderOptions {
	return testProviderOptions{}
}

// getTestProviderOpts gets the defaults and applies the opt overrides
// passed in.
func getTestProviderOpts(opt ...Option) testProviderOptions {
	opts := testProviderDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTestPort provides an optional port for the test provider's server.
func WithTestPort(port int) Option {
	return func(o interface{}) {
		if o, ok := o.(*testProviderOptions); ok {
			o.withPort = port
		}
	}
}
