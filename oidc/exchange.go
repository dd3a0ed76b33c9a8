package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// tokenReply is the provider's token endpoint response body.
type tokenReply struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	IdToken      string `json:"id_token"`
	Scope        string `json:"scope"`
}

// token converts the reply into an oauth2 token, resolving the relative
// expires_in against now. A reply without an expires_in leaves the expiry
// zero, which Token treats as never expiring.
func (r *tokenReply) token(now time.Time) *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
	}
	if r.ExpiresIn != 0 {
		t.Expiry = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return t
}

func parseTokenReply(body []byte) (*tokenReply, error) {
	var reply tokenReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, transportErr(msgUnknownCouldNotParse, err)
	}
	return &reply, nil
}

// exchangeCode redeems an authorization code for a Token, binding the
// exchange to the request's redirect URL and PKCE verifier.
func (m *Manager) exchangeCode(ctx context.Context, req Request, code string) (*Tk, error) {
	const op = "Manager.exchangeCode"
	form := url.Values{
		"client_id":     {m.config.ClientId},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {req.RedirectURL()},
		"code_verifier": {req.PKCEVerifier()},
	}
	if m.config.ClientSecret != "" {
		form.Set("client_secret", string(m.config.ClientSecret))
	}
	reply, err := m.tokenRequest(ctx, "authorization_code", form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if reply.IdToken == "" {
		return nil, fmt.Errorf("%s: %w", op, protocolErr(nil, "token reply carries no id_token", ErrMissingIdToken))
	}
	if err := m.verifyIdToken(ctx, IdToken(reply.IdToken), req.Nonce(), req.Audiences()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tk, err := NewToken(IdToken(reply.IdToken), reply.token(m.now()), WithNow(m.nowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tk, nil
}

// RequestAccessToken redeems an authorization code the caller obtained on
// their own, outside any flow this Manager started. No PKCE verifier is
// sent and the config's redirect URL is asserted, so this only works for
// codes minted without PKCE. Flows started by this Manager settle through
// SignIn or SignInCallback instead.
func (m *Manager) RequestAccessToken(ctx context.Context, code string) (Token, error) {
	const op = "Manager.RequestAccessToken"
	if code == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	form := url.Values{
		"client_id":    {m.config.ClientId},
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {m.config.RedirectURL},
	}
	if m.config.ClientSecret != "" {
		form.Set("client_secret", string(m.config.ClientSecret))
	}
	reply, err := m.tokenRequest(ctx, "authorization_code", form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if reply.IdToken == "" {
		return nil, fmt.Errorf("%s: %w", op, protocolErr(nil, "token reply carries no id_token", ErrMissingIdToken))
	}
	if err := m.verifyIdToken(ctx, IdToken(reply.IdToken), "", nil); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tk, err := NewToken(IdToken(reply.IdToken), reply.token(m.now()), WithNow(m.nowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.setCurrent(tk)
	return tk, nil
}

// RefreshAccessToken redeems a refresh token for a fresh Token. An empty
// refreshToken falls back to the Manager's session. Providers commonly
// omit the id_token, and sometimes the refresh token, from refresh
// replies; the prior session's values are carried forward then. When the
// session's token was refreshed, the session is updated.
func (m *Manager) RefreshAccessToken(ctx context.Context, refreshToken RefreshToken) (Token, error) {
	const op = "Manager.RefreshAccessToken"
	ctx, span := m.tracer.Start(ctx, "RefreshAccessToken")
	defer span.End()
	prior := m.currentToken()
	if refreshToken == "" && prior != nil {
		refreshToken = prior.RefreshToken()
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: no refresh_token to redeem: %w", op, ErrNoRefreshToken)
	}
	fromSession := prior != nil && prior.RefreshToken() == refreshToken

	form := url.Values{
		"client_id":     {m.config.ClientId},
		"grant_type":    {"refresh_token"},
		"refresh_token": {string(refreshToken)},
		"redirect_uri":  {m.config.RedirectURL},
	}
	if m.config.ClientSecret != "" {
		form.Set("client_secret", string(m.config.ClientSecret))
	}
	reply, err := m.tokenRequest(ctx, "refresh_token", form)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	idToken := IdToken(reply.IdToken)
	switch {
	case reply.IdToken != "":
		// Refresh replies don't echo the original nonce, so only the
		// signature, issuer and audience claims can be verified.
		if err := m.verifyIdToken(ctx, idToken, "", nil); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case fromSession:
		idToken = prior.IdToken()
	default:
		return nil, fmt.Errorf("%s: %w", op, protocolErr(nil, "refresh reply carries no id_token and there's no session to carry one forward from", ErrMissingIdToken))
	}

	underlying := reply.token(m.now())
	if underlying.RefreshToken == "" {
		underlying.RefreshToken = string(refreshToken)
	}
	tk, err := NewToken(idToken, underlying, WithNow(m.nowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if fromSession {
		m.setCurrent(tk)
	}
	return tk, nil
}

// tokenRequest posts one form to the token endpoint and parses the reply.
func (m *Manager) tokenRequest(ctx context.Context, grantType string, form url.Values) (*tokenReply, error) {
	start := time.Now()
	body, err := m.transport.postForm(ctx, m.config.Endpoints.Token, form, "")
	m.metrics.RecordTokenRequest(ctx, grantType, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	reply, err := parseTokenReply(body)
	if err != nil {
		return nil, err
	}
	if reply.AccessToken == "" {
		return nil, protocolErr(nil, "token reply carries no access_token", ErrMissingAccessToken)
	}
	return reply, nil
}

// verifyIdToken checks the id_token's signature and claims against the
// provider's keys. It's a no-op unless the Manager's config carries an
// Issuer, since key discovery needs one. An empty expectedNonce skips the
// nonce claim check.
func (m *Manager) verifyIdToken(ctx context.Context, idToken IdToken, expectedNonce string, audiences []string) error {
	const op = "Manager.verifyIdToken"
	if m.provider == nil {
		return nil
	}
	algs := make([]string, 0, len(m.config.SupportedSigningAlgs))
	for _, a := range m.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	verifier := m.provider.Verifier(&oidc.Config{
		ClientID:             m.config.ClientId,
		SupportedSigningAlgs: algs,
		Now:                  m.now,
	})
	t, err := verifier.Verify(HTTPClientContext(ctx, m.client), string(idToken))
	if err != nil {
		return fmt.Errorf("%s: %w", op, protocolErr(nil, "invalid id_token", err))
	}
	if expectedNonce != "" && t.Nonce != expectedNonce {
		return fmt.Errorf("%s: %w", op, protocolErr(nil, "id_token nonce doesn't match the request", ErrInvalidNonce))
	}
	if len(audiences) > 0 {
		found := false
		for _, a := range audiences {
			if StrListContains(t.Audience, a) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s: %w", op, protocolErr(nil, "id_token audiences don't include any requested audience", ErrInvalidAudience))
		}
	}
	return nil
}

// UserInfo is the standard set of claims the provider's userinfo endpoint
// returns about the signed in user. FetchUserInfo can decode into any
// claims type; GetUser returns this one.
type UserInfo struct {
	Subject       string `json:"sub"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Picture       string `json:"picture"`
	Locale        string `json:"locale"`
}

// GetUser returns the signed in user's claims from the provider's
// userinfo endpoint. The session's token is refreshed first when it's
// expired and a refresh token is at hand. Without a session it fails with
// an error wrapping ErrNoSession.
func (m *Manager) GetUser(ctx context.Context) (*UserInfo, error) {
	const op = "Manager.GetUser"
	tk, err := m.freshToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var info UserInfo
	if err := m.FetchUserInfo(ctx, tk.AccessToken(), &info); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &info, nil
}

// FetchUserInfo gets the claims the given access token can read from the
// provider's userinfo endpoint and decodes them into claims, which must
// be a non-nil pointer. It fails with an error wrapping
// ErrEndpointNotConfigured when the config has no userinfo endpoint,
// before anything is sent.
func (m *Manager) FetchUserInfo(ctx context.Context, accessToken AccessToken, claims interface{}) error {
	const op = "Manager.FetchUserInfo"
	if m.config.Endpoints.UserInfo == "" {
		return fmt.Errorf("%s: no userinfo endpoint in the config: %w", op, ErrEndpointNotConfigured)
	}
	if accessToken == "" {
		return fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	if reflect.ValueOf(claims).Kind() != reflect.Ptr {
		return fmt.Errorf("%s: claims interface must be a pointer: %w", op, ErrInvalidParameter)
	}
	body, err := m.transport.get(ctx, m.config.Endpoints.UserInfo, string(accessToken))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(body, claims); err != nil {
		return fmt.Errorf("%s: %w", op, transportErr(msgUnknownCouldNotParse, err))
	}
	return nil
}

// SignOut ends the Manager's session. The local session is dropped first,
// unconditionally; then, when the config has a revocation endpoint, the
// provider is told with a bearer-authorized request, and a failure there
// is returned after the local session is already gone. Without a session
// SignOut is a no-op.
func (m *Manager) SignOut(ctx context.Context) error {
	const op = "Manager.SignOut"
	ctx, span := m.tracer.Start(ctx, "SignOut")
	defer span.End()
	m.mu.Lock()
	tk := m.current
	m.current = nil
	m.mu.Unlock()
	if tk == nil {
		return nil
	}
	if m.config.Endpoints.Revocation == "" {
		m.logger.Debug("no revocation endpoint, sign out is local only")
		return nil
	}
	if _, err := m.transport.postForm(ctx, m.config.Endpoints.Revocation, url.Values{}, string(tk.AccessToken())); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// freshToken returns the session's token, refreshing it first when it's
// expired.
func (m *Manager) freshToken(ctx context.Context) (Token, error) {
	tk := m.currentToken()
	if tk == nil {
		return nil, fmt.Errorf("sign in first: %w", ErrNoSession)
	}
	if !tk.IsExpired() {
		return tk, nil
	}
	if tk.RefreshToken() == "" {
		return nil, fmt.Errorf("session is expired and has no refresh_token: %w", ErrNoRefreshToken)
	}
	return m.RefreshAccessToken(ctx, tk.RefreshToken())
}

// TokenSource returns an oauth2.TokenSource serving t, refreshing it
// through the Manager when it goes stale. A nil t serves the Manager's
// session. The source is safe for concurrent use, so it can back multiple
// authorized http clients.
func (m *Manager) TokenSource(ctx context.Context, t Token) oauth2.TokenSource {
	return &managerSource{m: m, ctx: ctx, current: t}
}

// managerSource refreshes through its Manager instead of the oauth2
// package so refresh replies flow through the Manager's reply parsing and
// id_token handling.
type managerSource struct {
	m   *Manager
	ctx context.Context

	mu      sync.Mutex
	current Token
}

// Token implements the oauth2.TokenSource interface.
func (s *managerSource) Token() (*oauth2.Token, error) {
	const op = "managerSource.Token"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		if s.current = s.m.currentToken(); s.current == nil {
			return nil, fmt.Errorf("%s: sign in first: %w", op, ErrNoSession)
		}
	}
	if s.current.Valid() {
		return s.current.StaticTokenSource().Token()
	}
	if s.current.RefreshToken() == "" {
		return nil, fmt.Errorf("%s: token is stale and has no refresh_token: %w", op, ErrNoRefreshToken)
	}
	tk, err := s.m.RefreshAccessToken(s.ctx, s.current.RefreshToken())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.current = tk
	return tk.StaticTokenSource().Token()
}

// ensure that managerSource implements the oauth2.TokenSource interface.
var _ oauth2.TokenSource = (*managerSource)(nil)
