package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/keyhaven/chainauth/storage"
)

// RedirectChannel implements the CallbackChannel interface for
// ChannelRedirect. Deliveries persist the pending request in the channel's
// store, keyed by state; it is then up to the caller to send the user to
// the provider and to hand the provider's callback URL to Callback, which
// may happen in a different process. Records are removed from the store as
// they are consumed, so a callback answers a pending request at most once.
type RedirectChannel struct {
	logger hclog.Logger
	store  storage.RequestStore
}

// ensure that RedirectChannel implements the CallbackChannel interface.
var _ CallbackChannel = (*RedirectChannel)(nil)

// NewRedirectChannel creates a redirect channel persisting its pending
// requests in the given store. Supported options: WithLogger.
func NewRedirectChannel(store storage.RequestStore, opt ...Option) (*RedirectChannel, error) {
	const op = "oidc.NewRedirectChannel"
	if store == nil {
		return nil, fmt.Errorf("%s: missing request store: %w", op, ErrNilParameter)
	}
	opts := getRedirectOpts(opt...)
	return &RedirectChannel{
		logger: opts.withLogger,
		store:  store,
	}, nil
}

// Kind implements the Channel.Kind() interface function.
func (c *RedirectChannel) Kind() ChannelKind { return ChannelRedirect }

// Deliver implements the Channel.Deliver() interface function. For this
// channel delivering means persisting the pending request; complete is
// never called, the outcome arrives through Callback instead.
func (c *RedirectChannel) Deliver(ctx context.Context, req Request, authURL string, complete CompleteFunc) error {
	const op = "RedirectChannel.Deliver"
	rec := storage.PendingAuthorization{
		FlowId:       req.Id(),
		State:        req.State(),
		Nonce:        req.Nonce(),
		CodeVerifier: req.PKCEVerifier(),
		RedirectURL:  req.RedirectURL(),
		Scopes:       req.Scopes(),
		Audiences:    req.Audiences(),
		CreatedAt:    time.Now(),
		ExpiresAt:    req.Expiry(),
	}
	if err := c.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("%s: unable to persist the pending request: %w", op, err)
	}
	c.log().Debug("persisted pending request", "flow_id", req.Id())
	return nil
}

// Callback implements the CallbackChannel.Callback() interface function.
// It reads the provider's response from the callback URL's query; anything
// in a fragment is ignored, a provider answering in the fragment is using
// a flow this package doesn't speak.
func (c *RedirectChannel) Callback(ctx context.Context, rawURL string) (Request, *AuthorizationResponse, error) {
	const op = "RedirectChannel.Callback"
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, configErr(op+": invalid callback URL", err)
	}
	q := u.Query()
	state := q.Get("state")
	if state == "" {
		return nil, nil, configErr(op+": callback URL carries no state", ErrNoPendingRequest)
	}
	rec, err := c.store.GetAndDelete(ctx, state)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, configErr(op+": no pending request matches the callback", ErrNoPendingRequest)
		}
		return nil, nil, fmt.Errorf("%s: unable to load the pending request: %w", op, err)
	}
	req := newRequestFromPending(rec)
	if req.IsExpired() {
		return req, nil, configErr(op+": the pending request expired before the callback arrived", ErrExpiredRequest)
	}
	resp, perr := parseAuthResponse(q, req.State())
	return req, resp, perr
}

func (c *RedirectChannel) log() hclog.Logger {
	if c.logger == nil {
		return hclog.NewNullLogger()
	}
	return c.logger
}

// newRequestFromPending rebuilds the Request a persisted record was made
// from, as far as the redirect flow needs it. The record carries the
// original expiration, so expiry checks keep working across processes.
func newRequestFromPending(rec storage.PendingAuthorization) *Req {
	return &Req{
		id:          rec.FlowId,
		state:       rec.State,
		nonce:       rec.Nonce,
		redirectURL: rec.RedirectURL,
		scopes:      rec.Scopes,
		audiences:   rec.Audiences,
		verifier:    rec.CodeVerifier,
		expiration:  rec.ExpiresAt,
	}
}

// redirectOptions is the set of available options for RedirectChannel
// functions.
type redirectOptions struct {
	withLogger hclog.Logger
}

// redirectDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func redirectDefaults() redirectOptions {
	return redirectOptions{}
}

// getRedirectOpts gets the redirect channel defaults and applies the opt
// overrides passed in.
func getRedirectOpts(opt ...Option) redirectOptions {
	opts := redirectDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
