package oidc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/keyhaven/chainauth/util"
)

// DefaultBrowserTimeout bounds how long a browser delivery waits for the
// user to finish with the provider before the attempt is abandoned.
const DefaultBrowserTimeout = 2 * time.Minute

const browserSuccessPage = `<!DOCTYPE html>
<html lang="en">
<head><title>Signed in</title></head>
<body>Signed in. You can close this window and return to the application.</body>
</html>`

const browserFailurePage = `<!DOCTYPE html>
<html lang="en">
<head><title>Sign in failed</title></head>
<body>Sign in failed. You can close this window and return to the application.</body>
</html>`

// BrowserChannel implements the Channel interface for ChannelBrowser. Each
// delivery starts a loopback HTTP listener on the request's redirect URL,
// opens the authorization URL in the system browser and waits for the
// provider to redirect the browser back to the listener.
type BrowserChannel struct {
	logger  hclog.Logger
	opener  func(url string) error
	timeout time.Duration
}

// ensure that BrowserChannel implements the Channel interface.
var _ Channel = (*BrowserChannel)(nil)

// NewBrowserChannel creates a browser channel. Supported options:
// WithLogger, WithBrowserTimeout, WithBrowserOpener.
func NewBrowserChannel(opt ...Option) *BrowserChannel {
	opts := getBrowserOpts(opt...)
	return &BrowserChannel{
		logger:  opts.withLogger,
		opener:  opts.withOpener,
		timeout: opts.withTimeout,
	}
}

// Kind implements the Channel.Kind() interface function.
func (c *BrowserChannel) Kind() ChannelKind { return ChannelBrowser }

// Deliver implements the Channel.Deliver() interface function. It returns
// an error without calling complete when the loopback listener can't be
// started or the browser can't be opened; after that the outcome arrives
// through complete, at the latest when the channel's timeout expires.
func (c *BrowserChannel) Deliver(ctx context.Context, req Request, authURL string, complete CompleteFunc) error {
	const op = "BrowserChannel.Deliver"
	redirect, err := url.Parse(req.RedirectURL())
	if err != nil {
		return configErr(fmt.Sprintf("%s: invalid redirect URL", op), err)
	}
	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return configErr(fmt.Sprintf("%s: unable to listen on %s", op, redirect.Host), err)
	}

	var (
		once = sync.Once{}
		done = make(chan struct{})
		srv  = &http.Server{}
	)
	finish := func(resp *AuthorizationResponse, ferr error) {
		once.Do(func() {
			complete(req.Id(), resp, ferr)
			close(done)
			go func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		})
	}

	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		resp, perr := parseAuthResponse(r.URL.Query(), req.State())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if perr != nil {
			w.Write([]byte(browserFailurePage))
		} else {
			w.Write([]byte(browserSuccessPage))
		}
		finish(resp, perr)
	})
	srv.Handler = mux
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			c.log().Error("loopback listener stopped", "err", serveErr)
		}
	}()

	opener := c.opener
	if opener == nil {
		opener = util.OpenURL
	}
	if err := opener(authURL); err != nil {
		srv.Close()
		return configErr(fmt.Sprintf("%s: unable to open the browser", op), err)
	}
	c.log().Debug("waiting for the provider callback", "flow_id", req.Id(), "listen", redirect.Host)

	go func() {
		timer := time.NewTimer(c.attemptTimeout())
		defer timer.Stop()
		select {
		case <-done:
		case <-ctx.Done():
			finish(nil, cancelledErr("authorization attempt abandoned", ErrUserCancelled))
		case <-timer.C:
			finish(nil, cancelledErr("nobody completed the sign in before the attempt timed out", ErrUserCancelled))
		}
	}()
	return nil
}

func (c *BrowserChannel) attemptTimeout() time.Duration {
	if c.timeout > 0 {
		return c.timeout
	}
	return DefaultBrowserTimeout
}

func (c *BrowserChannel) log() hclog.Logger {
	if c.logger == nil {
		return hclog.NewNullLogger()
	}
	return c.logger
}

// browserOptions is the set of available options for BrowserChannel
// functions.
type browserOptions struct {
	withLogger  hclog.Logger
	withOpener  func(url string) error
	withTimeout time.Duration
}

// browserDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func browserDefaults() browserOptions {
	return browserOptions{
		withTimeout: DefaultBrowserTimeout,
	}
}

// getBrowserOpts gets the browser channel defaults and applies the opt
// overrides passed in.
func getBrowserOpts(opt ...Option) browserOptions {
	opts := browserDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithBrowserOpener provides an optional function the browser channel uses
// to open the authorization URL, in place of the system browser.
//
// Valid for: BrowserChannel
func WithBrowserOpener(opener func(url string) error) Option {
	return func(o interface{}) {
		if o, ok := o.(*browserOptions); ok {
			o.withOpener = opener
		}
	}
}
