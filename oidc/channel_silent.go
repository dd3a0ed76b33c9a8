package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/net/publicsuffix"
)

// DefaultSilentTimeout is the hard deadline on a silent delivery. A
// provider that hasn't answered by then is treated as having no silent
// answer at all.
const DefaultSilentTimeout = 10 * time.Second

// SilentChannel implements the Channel interface for ChannelSilent. It
// asks the provider for an authorization response with prompt=none, riding
// on the provider session its cookie jar accumulated, and never shows the
// user anything. Deliveries fail fast when the provider wants interaction
// and are cut off at the channel's hard timeout.
type SilentChannel struct {
	logger  hclog.Logger
	base    *http.Client
	jar     http.CookieJar
	timeout time.Duration
}

// ensure that SilentChannel implements the Channel interface.
var _ Channel = (*SilentChannel)(nil)

// NewSilentChannel creates a silent channel on top of the given HTTP
// client, which carries the transport (and any provider CA) to use. The
// channel keeps its own cookie jar, shared across deliveries, so a
// provider session established earlier keeps silent deliveries working.
//
// Supported options: WithLogger, WithSilentTimeout.
func NewSilentChannel(base *http.Client, opt ...Option) (*SilentChannel, error) {
	const op = "oidc.NewSilentChannel"
	if base == nil {
		base = &http.Client{}
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, configErr(op+": unable to create a cookie jar", err)
	}
	opts := getSilentOpts(opt...)
	return &SilentChannel{
		logger:  opts.withLogger,
		base:    base,
		jar:     jar,
		timeout: opts.withTimeout,
	}, nil
}

// Kind implements the Channel.Kind() interface function.
func (c *SilentChannel) Kind() ChannelKind { return ChannelSilent }

// Deliver implements the Channel.Deliver() interface function. The
// provider round trip runs in the background; the outcome always arrives
// through complete.
func (c *SilentChannel) Deliver(ctx context.Context, req Request, authURL string, complete CompleteFunc) error {
	go c.deliver(ctx, req, authURL, complete)
	return nil
}

func (c *SilentChannel) deliver(ctx context.Context, req Request, authURL string, complete CompleteFunc) {
	dctx, cancel := context.WithTimeout(ctx, c.attemptTimeout())
	defer cancel()

	// follow the provider's redirects until one points back at the
	// request's redirect URL, and stop there instead of fetching it
	var finalURL *url.URL
	client := &http.Client{
		Transport: c.base.Transport,
		Jar:       c.jar,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if strings.HasPrefix(r.URL.String(), req.RedirectURL()) {
				finalURL = r.URL
				return http.ErrUseLastResponse
			}
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		},
	}

	httpReq, err := http.NewRequestWithContext(dctx, http.MethodGet, authURL, nil)
	if err != nil {
		complete(req.Id(), nil, configErr("unable to create the silent authorization request", err))
		return
	}
	resp, err := client.Do(httpReq)
	switch {
	case err == nil:
		resp.Body.Close()
	case errors.Is(err, context.DeadlineExceeded):
		complete(req.Id(), nil, cancelledErr("provider gave no silent answer before the timeout", ErrUserCancelled))
		return
	case errors.Is(err, context.Canceled):
		complete(req.Id(), nil, cancelledErr("authorization attempt abandoned", ErrUserCancelled))
		return
	default:
		complete(req.Id(), nil, transportErr("silent authorization request failed", err))
		return
	}
	if finalURL == nil {
		c.log().Debug("provider answered without redirecting back", "flow_id", req.Id(), "status", resp.StatusCode)
		complete(req.Id(), nil, protocolErr(nil, "provider wants interaction, it gave no silent answer", ErrLoginRequired))
		return
	}
	authResp, perr := parseAuthResponse(finalURL.Query(), req.State())
	complete(req.Id(), authResp, perr)
}

func (c *SilentChannel) attemptTimeout() time.Duration {
	if c.timeout > 0 {
		return c.timeout
	}
	return DefaultSilentTimeout
}

func (c *SilentChannel) log() hclog.Logger {
	if c.logger == nil {
		return hclog.NewNullLogger()
	}
	return c.logger
}

// silentOptions is the set of available options for SilentChannel
// functions.
type silentOptions struct {
	withLogger  hclog.Logger
	withTimeout time.Duration
}

// silentDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func silentDefaults() silentOptions {
	return silentOptions{
		withTimeout: DefaultSilentTimeout,
	}
}

// getSilentOpts gets the silent channel defaults and applies the opt
// overrides passed in.
func getSilentOpts(opt ...Option) silentOptions {
	opts := silentDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
