package oidc

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/keyhaven/chainauth/instrumentation"
	"github.com/keyhaven/chainauth/storage"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// WithNow provides an optional func for determining the current time for:
// NewRequest, NewToken, NewManager
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *reqOptions:
			v.withNowFunc = now
		case *tokenOptions:
			v.withNowFunc = now
		case *managerOptions:
			v.withNowFunc = now
		}
	}
}

// WithExpirySkew provides an optional expiry skew duration for: Token, Request
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *tokenOptions:
			v.withExpirySkew = &d
		case *reqOptions:
			v.withExpirySkew = &d
		}
	}
}

// WithLogger provides an optional hclog.Logger for: Manager, BrowserChannel,
// RedirectChannel, SilentChannel
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *managerOptions:
			v.withLogger = l
		case *browserOptions:
			v.withLogger = l
		case *redirectOptions:
			v.withLogger = l
		case *silentOptions:
			v.withLogger = l
		}
	}
}

// WithBrowserTimeout provides an optional timeout for how long the user
// gets to finish signing in before a browser delivery is abandoned for:
// Manager, BrowserChannel
func WithBrowserTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if d <= 0 {
			return
		}
		switch v := o.(type) {
		case *browserOptions:
			v.withTimeout = d
		}
	}
}

// WithSilentTimeout provides an optional hard deadline on the provider
// round trip of a silent delivery for: Manager, SilentChannel
func WithSilentTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if d <= 0 {
			return
		}
		switch v := o.(type) {
		case *silentOptions:
			v.withTimeout = d
		}
	}
}

// WithChannel provides an optional delivery channel for: Manager. The
// channel replaces the Manager's default channel of the same kind. May be
// given multiple times for different kinds.
func WithChannel(ch Channel) Option {
	return func(o interface{}) {
		if ch == nil {
			return
		}
		switch v := o.(type) {
		case *managerOptions:
			v.withChannels = append(v.withChannels, ch)
		}
	}
}

// WithRequestStore provides an optional store for pending redirect
// authorizations for: Manager. By default an in-memory store is used,
// which only serves single-process deployments.
func WithRequestStore(s storage.RequestStore) Option {
	return func(o interface{}) {
		if s == nil {
			return
		}
		switch v := o.(type) {
		case *managerOptions:
			v.withStore = s
		}
	}
}

// WithInstrumentation provides optional OpenTelemetry instrumentation
// for: Manager
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(o interface{}) {
		if inst == nil {
			return
		}
		switch v := o.(type) {
		case *managerOptions:
			v.withInstrumentation = inst
		}
	}
}
