package oidc

import (
	"context"
	"fmt"
	"net/url"
)

// ChannelKind selects how an authorization URL reaches the provider and
// how the provider's response finds its way back.
type ChannelKind string

const (
	// ChannelBrowser opens the system browser and collects the response
	// on a loopback listener. It needs a user at the keyboard.
	ChannelBrowser ChannelKind = "browser"

	// ChannelRedirect hands the authorization URL to the caller, who
	// redirects the user and later feeds the provider's callback URL to
	// SignInCallback. The pending request is persisted so the callback
	// can arrive in another process.
	ChannelRedirect ChannelKind = "redirect"

	// ChannelSilent asks the provider for a response without user
	// interaction (prompt=none), riding on whatever provider session the
	// channel's cookie jar holds. It fails fast when the provider wants
	// interaction, and gives up after a hard timeout.
	ChannelSilent ChannelKind = "silent"
)

// AuthorizationResponse is the authorization code and state a provider
// delivers back through a channel.
type AuthorizationResponse struct {
	Code  string
	State string
}

// CompleteFunc is how a channel reports the outcome of a delivery. The
// flowId correlates the outcome with the Request that opened the channel;
// exactly one of resp and err is set. Calling it more than once for the
// same flow is safe, only the first call counts.
type CompleteFunc func(flowId string, resp *AuthorizationResponse, err error)

// Channel delivers an authorization URL to the provider and eventually
// reports the provider's response, or the failure, through the given
// CompleteFunc.
//
// Deliver returns an error only when delivery could not begin at all; the
// flow is then over and complete will never be called. Once Deliver
// returns nil the outcome, success or failure, arrives through complete.
// Channel implementations must be safe for concurrent use.
type Channel interface {
	// Kind identifies the channel.
	Kind() ChannelKind

	// Deliver starts one delivery for the given Request.
	Deliver(ctx context.Context, req Request, authURL string, complete CompleteFunc) error
}

// CallbackChannel is a Channel whose responses arrive out of band, as a
// callback URL the caller receives and hands back in.
type CallbackChannel interface {
	Channel

	// Callback resolves a provider callback URL into the pending Request
	// it answers and the response it carries. The returned Request is
	// nil when the URL can't be tied to any pending request.
	Callback(ctx context.Context, rawURL string) (Request, *AuthorizationResponse, error)
}

// parseAuthResponse interprets the query of a provider redirect. An
// expectedState of "" skips the state comparison for callers that match
// the state against a store instead.
func parseAuthResponse(q url.Values, expectedState string) (*AuthorizationResponse, error) {
	state := q.Get("state")
	if expectedState != "" && state != expectedState {
		return nil, protocolErr(nil, "state in the response doesn't match the pending request", ErrResponseStateInvalid)
	}
	if errParam := q.Get("error"); errParam != "" {
		authErr := &AuthError{Code: errParam, Description: q.Get("error_description")}
		var sentinel error
		if errParam == "login_required" || errParam == "interaction_required" || errParam == "consent_required" {
			sentinel = ErrLoginRequired
		}
		return nil, protocolErr(authErr, "authorization failed", sentinel)
	}
	code := q.Get("code")
	if code == "" {
		return nil, protocolErr(nil, "authorization response carries no code", ErrMissingAuthCode)
	}
	return &AuthorizationResponse{Code: code, State: state}, nil
}

// channelSet holds a Manager's channels by kind.
type channelSet map[ChannelKind]Channel

func (s channelSet) get(kind ChannelKind) (Channel, error) {
	ch, ok := s[kind]
	if !ok {
		return nil, fmt.Errorf("no channel for kind %q: %w", kind, ErrUnsupportedChannel)
	}
	return ch, nil
}
