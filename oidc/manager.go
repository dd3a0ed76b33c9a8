package oidc

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"

	"github.com/keyhaven/chainauth/instrumentation"
	"github.com/keyhaven/chainauth/storage"
)

// Manager runs authorization code flows against the provider in a Config
// and keeps the resulting session. It owns the delivery channels, the
// pending flow registry and the token lifecycle, and it is safe for
// concurrent use.
//
// A Manager tracks at most one outstanding sign in attempt: starting a
// new attempt supersedes the previous one, whose waiter gets an error
// wrapping ErrFlowSuperseded. It also holds at most one session, the
// token of the last successful sign in.
type Manager struct {
	config    *Config
	logger    hclog.Logger
	client    *http.Client
	transport *transport
	registry  *registry
	channels  channelSet
	metrics   *instrumentation.Metrics
	tracer    trace.Tracer
	nowFunc   func() time.Time

	// provider is non-nil only when the config carries an Issuer, which
	// enables id_token verification against the provider's keys.
	provider *oidc.Provider

	mu      sync.Mutex
	current *Tk

	// backgroundCtx is the context used by the provider's remote key set,
	// which must outlive the context given to NewManager.
	backgroundCtx       context.Context
	backgroundCtxCancel context.CancelFunc
}

// NewManager creates a Manager from the config. Supported options:
// WithLogger, WithRequestStore, WithChannel, WithBrowserOpener,
// WithBrowserTimeout, WithSilentTimeout, WithInstrumentation, WithNow.
// Channel related options are handed through to the default channels, so
// a Manager built with WithBrowserTimeout gets a browser channel with
// that timeout.
//
// The Manager allocates resources (a provider key set when the config has
// an Issuer). Call Done() to release them when the Manager is no longer
// needed.
func NewManager(c *Config, opt ...Option) (*Manager, error) {
	const op = "oidc.NewManager"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	opts := getManagerOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	client, err := c.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	m := &Manager{
		config:    c,
		logger:    logger,
		client:    client,
		transport: newTransport(client, logger),
		registry:  newRegistry(),
		tracer:    tracenoop.NewTracerProvider().Tracer("oidc"),
		nowFunc:   opts.withNowFunc,
	}
	m.backgroundCtx, m.backgroundCtxCancel = context.WithCancel(context.Background())
	if opts.withInstrumentation != nil {
		m.metrics = opts.withInstrumentation.Metrics()
		m.tracer = opts.withInstrumentation.Tracer("oidc")
	}

	if c.Issuer != "" {
		provider, err := oidc.NewProvider(HTTPClientContext(m.backgroundCtx, client), c.Issuer)
		if err != nil {
			m.backgroundCtxCancel()
			return nil, fmt.Errorf("%s: unable to create provider for issuer %q: %w", op, c.Issuer, err)
		}
		m.provider = provider
	}

	store := opts.withStore
	if store == nil {
		store = storage.NewInMem()
	}

	// Default channels get the Manager's logger first so a WithLogger in
	// opt still wins, then any channel options the caller passed through.
	chOpt := append([]Option{WithLogger(logger)}, opt...)
	browser := NewBrowserChannel(chOpt...)
	redirect, err := NewRedirectChannel(store, chOpt...)
	if err != nil {
		m.backgroundCtxCancel()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	silent, err := NewSilentChannel(client, chOpt...)
	if err != nil {
		m.backgroundCtxCancel()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.channels = channelSet{
		browser.Kind():  browser,
		redirect.Kind(): redirect,
		silent.Kind():   silent,
	}
	for _, ch := range opts.withChannels {
		m.channels[ch.Kind()] = ch
	}
	return m, nil
}

// Done with the Manager's background resources. The Manager isn't usable
// for sign in attempts needing id_token verification after this.
func (m *Manager) Done() {
	// checking for nil here prevents a panic when developers neglect to
	// check for an error before using the manager
	if m == nil {
		return
	}
	if m.backgroundCtxCancel != nil {
		m.backgroundCtxCancel()
		m.backgroundCtxCancel = nil
	}
}

// Config returns the Manager's config.
func (m *Manager) Config() *Config {
	return m.config
}

// SignIn runs one authorization code flow over the channel selected by
// kind and blocks until the flow settles: the provider's response arrived
// and was exchanged for a Token, the flow failed, a newer attempt
// superseded it, or ctx was done. On success the Token becomes the
// Manager's session.
//
// ChannelRedirect flows settle in a later request, possibly in another
// process; use BeginRedirect and SignInCallback for those. Supported
// options: WithScopes, WithAudiences, WithUILocales.
func (m *Manager) SignIn(ctx context.Context, kind ChannelKind, opt ...Option) (Token, error) {
	const op = "Manager.SignIn"
	ctx, span := m.tracer.Start(ctx, "SignIn")
	defer span.End()
	if kind == ChannelRedirect {
		return nil, fmt.Errorf("%s: redirect flows settle through SignInCallback, start them with BeginRedirect: %w", op, ErrUnsupportedChannel)
	}
	ch, err := m.channels.get(kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req, err := m.newRequest(opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	authURL, err := m.authURL(req, kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	entry := m.beginFlow(ctx, req, kind)
	if err := ch.Deliver(ctx, req, authURL, m.completeFlow); err != nil {
		m.registry.remove(req.Id())
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.metrics.RecordFlowStarted(ctx, string(kind))

	select {
	case res := <-entry.result:
		if res.err != nil {
			span.RecordError(res.err)
			return nil, fmt.Errorf("%s: %w", op, res.err)
		}
		if res.response.State != req.State() {
			return nil, fmt.Errorf("%s: %w", op, protocolErr(nil, "response state doesn't match the request", ErrResponseStateInvalid))
		}
		tk, err := m.exchangeCode(ctx, req, res.response.Code)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		m.setCurrent(tk)
		return tk, nil
	case <-ctx.Done():
		err := cancelledErr("sign in abandoned before the flow settled", ctx.Err())
		m.completeFlow(req.Id(), nil, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
}

// BeginRedirect starts a redirect flow and returns the authorization URL
// to send the user to. The pending request is persisted in the Manager's
// request store; the flow settles when the provider's callback URL is
// handed to SignInCallback, in this process or another one sharing the
// store. Supported options: WithScopes, WithAudiences, WithUILocales.
func (m *Manager) BeginRedirect(ctx context.Context, opt ...Option) (string, error) {
	const op = "Manager.BeginRedirect"
	ctx, span := m.tracer.Start(ctx, "BeginRedirect")
	defer span.End()
	ch, err := m.channels.get(ChannelRedirect)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	req, err := m.newRequest(opt...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	authURL, err := m.authURL(req, ChannelRedirect)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := ch.Deliver(ctx, req, authURL, m.completeFlow); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	m.metrics.RecordFlowStarted(ctx, string(ChannelRedirect))
	m.logger.Debug("redirect flow started", "flow_id", req.Id())
	return authURL, nil
}

// SignInCallback settles a flow whose response arrived as a callback URL,
// which today means a ChannelRedirect flow started by BeginRedirect. The
// callback URL's query is matched against the pending request persisted
// in the request store; the fragment, if any, is ignored. On success the
// Token becomes the Manager's session.
func (m *Manager) SignInCallback(ctx context.Context, kind ChannelKind, rawURL string, opt ...Option) (Token, error) {
	const op = "Manager.SignInCallback"
	ctx, span := m.tracer.Start(ctx, "SignInCallback")
	defer span.End()
	ch, err := m.channels.get(kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cc, ok := ch.(CallbackChannel)
	if !ok {
		return nil, fmt.Errorf("%s: channel %q doesn't resolve callbacks: %w", op, kind, ErrUnsupportedChannel)
	}
	req, resp, cerr := cc.Callback(ctx, rawURL)
	if req == nil {
		if cerr == nil {
			cerr = configErr("callback matched no pending request", ErrNoPendingRequest)
		}
		span.RecordError(cerr)
		return nil, fmt.Errorf("%s: %w", op, cerr)
	}

	// The flow is registered and completed through the same notification
	// point as the interactive channels, so supersession and duplicate
	// delivery behave the same for callbacks.
	entry := m.beginFlow(ctx, req, kind)
	m.completeFlow(req.Id(), resp, cerr)
	res := <-entry.result
	if res.err != nil {
		span.RecordError(res.err)
		return nil, fmt.Errorf("%s: %w", op, res.err)
	}
	tk, err := m.exchangeCode(ctx, req, res.response.Code)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.setCurrent(tk)
	return tk, nil
}

// beginFlow registers req as the outstanding flow. When that displaces an
// outstanding flow, its waiter is told the flow was superseded.
func (m *Manager) beginFlow(ctx context.Context, req Request, kind ChannelKind) *pendingEntry {
	entry, superseded := m.registry.register(req, kind)
	if superseded != nil {
		m.logger.Debug("superseding outstanding flow", "flow_id", superseded.id, "new_flow_id", req.Id())
		m.metrics.RecordFlowSuperseded(ctx, string(superseded.kind))
		superseded.deliver(nil, cancelledErr("a newer sign in attempt replaced this one", ErrFlowSuperseded))
	}
	return entry
}

// completeFlow is the single point where channels report flow outcomes.
// Completions for flows that aren't outstanding (settled, superseded or
// never registered) are logged and dropped.
func (m *Manager) completeFlow(flowId string, resp *AuthorizationResponse, err error) {
	if err != nil {
		m.logger.Debug("flow failed", "flow_id", flowId, "error", err)
	} else {
		m.logger.Debug("flow delivered a response", "flow_id", flowId)
	}
	kind, ok := m.registry.complete(flowId, resp, err)
	if !ok {
		m.logger.Debug("ignoring completion for a flow that isn't outstanding", "flow_id", flowId)
		return
	}
	m.metrics.RecordFlowCompleted(m.backgroundCtx, string(kind), err)
}

// newRequest builds the Request for one sign in attempt: a fresh id,
// state, nonce and PKCE verifier every time, with the config's scopes and
// audiences as defaults.
func (m *Manager) newRequest(opt ...Option) (*Req, error) {
	reqOpt := []Option{WithNow(m.nowFunc)}
	if m.config.Scopes != nil {
		reqOpt = append(reqOpt, WithScopes(m.config.Scopes...))
	}
	if len(m.config.Audiences) > 0 {
		reqOpt = append(reqOpt, WithAudiences(m.config.Audiences...))
	}
	reqOpt = append(reqOpt, opt...)
	return NewRequest(DefaultRequestExpireIn, m.config.RedirectURL, reqOpt...)
}

// authURL composes the provider's authorization URL for req. The kind
// shapes the URL: silent deliveries add prompt=none so the provider
// answers from its session instead of rendering a login page.
func (m *Manager) authURL(req Request, kind ChannelKind) (string, error) {
	const op = "Manager.authURL"
	if req.State() == req.Nonce() {
		return "", fmt.Errorf("%s: state and nonce are equal, which isn't allowed: %w", op, ErrInvalidParameter)
	}
	oauth2Config := oauth2.Config{
		ClientID:     m.config.ClientId,
		ClientSecret: string(m.config.ClientSecret),
		RedirectURL:  req.RedirectURL(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   m.config.Endpoints.Authorization,
			TokenURL:  m.config.Endpoints.Token,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: req.Scopes(),
	}
	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(req.Nonce()),
		oauth2.S256ChallengeOption(req.PKCEVerifier()),
	}
	if len(req.Audiences()) > 0 {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("audience", strings.Join(req.Audiences(), " ")))
	}
	if len(req.UILocales()) > 0 {
		locales := make([]string, 0, len(req.UILocales()))
		for _, l := range req.UILocales() {
			locales = append(locales, l.String())
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	if kind == ChannelSilent {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("prompt", "none"))
	}
	return oauth2Config.AuthCodeURL(req.State(), authCodeOpts...), nil
}

// setCurrent makes tk the Manager's session.
func (m *Manager) setCurrent(tk *Tk) {
	m.mu.Lock()
	m.current = tk
	m.mu.Unlock()
}

// currentToken returns the Manager's session token, or nil.
func (m *Manager) currentToken() *Tk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) now() time.Time {
	if m.nowFunc != nil {
		return m.nowFunc()
	}
	return time.Now()
}

// managerOptions is the set of available options for Manager functions
type managerOptions struct {
	withLogger          hclog.Logger
	withStore           storage.RequestStore
	withChannels        []Channel
	withInstrumentation *instrumentation.Instrumentation
	withNowFunc         func() time.Time
}

// managerDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func managerDefaults() managerOptions {
	return managerOptions{}
}

// getManagerOpts gets the defaults and applies the opt overrides passed
// in.
func getManagerOpts(opt ...Option) managerOptions {
	opts := managerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
