package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrNilParameter          = errors.New("nil parameter")
	ErrInvalidCACert         = errors.New("invalid CA certificate")
	ErrInvalidIssuer         = errors.New("invalid issuer")
	ErrIdGeneratorFailed     = errors.New("id generation failed")
	ErrEndpointNotConfigured = errors.New("endpoint not configured")
	ErrUnsupportedChannel    = errors.New("unsupported channel")
	ErrUnsupportedAlg        = errors.New("unsupported signing algorithm")

	ErrExpiredRequest       = errors.New("authorization request is expired")
	ErrNoPendingRequest     = errors.New("no pending authorization request")
	ErrFlowSuperseded       = errors.New("authorization flow superseded")
	ErrResponseStateInvalid = errors.New("authorization response state")
	ErrMissingAuthCode      = errors.New("authorization code is missing")
	ErrUserCancelled        = errors.New("user cancelled authorization")
	ErrLoginRequired        = errors.New("login required")

	ErrMissingIdToken     = errors.New("id_token is missing")
	ErrInvalidNonce       = errors.New("invalid nonce")
	ErrInvalidAudience    = errors.New("invalid audience")
	ErrMissingAccessToken = errors.New("access_token is missing")
	ErrNoRefreshToken     = errors.New("no refresh_token")
	ErrNoSession          = errors.New("no session")
	ErrNotFound           = errors.New("not found")
)

// Kind classifies an error by the failure domain it belongs to, so callers can
// choose their handling without matching individual sentinels.
type Kind string

const (
	// KindUnknown is the zero Kind, for errors that don't carry one.
	KindUnknown Kind = ""

	// KindTransport: the provider could not be reached, or replied with
	// something that couldn't be understood.
	KindTransport Kind = "transport"

	// KindProtocol: the provider replied with an error (error and
	// error_description), or the response failed a state, nonce or audience
	// check.
	KindProtocol Kind = "protocol"

	// KindUserCancelled: the user abandoned the interaction, or a
	// non-interactive attempt timed out.
	KindUserCancelled Kind = "user_cancelled"

	// KindConfiguration: the caller supplied an invalid parameter, or the
	// operation needs configuration that's absent.
	KindConfiguration Kind = "configuration"
)

// Err is a structured error that carries a Kind and, for provider-signaled
// failures, the provider's AuthError. Errors returned by this package either
// are an Err or wrap a sentinel that KindOf can classify.
type Err struct {
	// Kind classifies the error.
	Kind Kind

	// Msg is a human readable message for the error.
	Msg string

	// AuthErr is the provider's error response, when the provider signaled
	// one.
	AuthErr *AuthError

	// Wrapped is the underlying error, if there is one.
	Wrapped error
}

// Error satisfies the error interface.
func (e *Err) Error() string {
	switch {
	case e.Msg != "" && e.Wrapped != nil:
		return e.Msg + ": " + e.Wrapped.Error()
	case e.Msg != "":
		return e.Msg
	case e.Wrapped != nil:
		return e.Wrapped.Error()
	default:
		return "unknown error"
	}
}

// Unwrap returns the wrapped error, if there is one.
func (e *Err) Unwrap() error { return e.Wrapped }

// AuthError is the error and error_description pair a provider returns when an
// authorization attempt fails (user denied consent, provider error, etc).
type AuthError struct {
	// Code is the provider's error code (for example "access_denied").
	Code string

	// Description is the provider's optional error_description.
	Description string
}

// Error satisfies the error interface.
func (e *AuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func transportErr(msg string, wrapped error) *Err {
	return &Err{Kind: KindTransport, Msg: msg, Wrapped: wrapped}
}

func protocolErr(authErr *AuthError, msg string, wrapped error) *Err {
	return &Err{Kind: KindProtocol, Msg: msg, AuthErr: authErr, Wrapped: wrapped}
}

func cancelledErr(msg string, wrapped error) *Err {
	return &Err{Kind: KindUserCancelled, Msg: msg, Wrapped: wrapped}
}

func configErr(msg string, wrapped error) *Err {
	return &Err{Kind: KindConfiguration, Msg: msg, Wrapped: wrapped}
}

// KindOf reports the Kind of err. It favors an Err found in the chain, then
// falls back to classifying this package's sentinel errors. Errors from
// elsewhere report KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Err
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrNilParameter),
		errors.Is(err, ErrInvalidCACert),
		errors.Is(err, ErrInvalidIssuer),
		errors.Is(err, ErrEndpointNotConfigured),
		errors.Is(err, ErrUnsupportedChannel),
		errors.Is(err, ErrUnsupportedAlg),
		errors.Is(err, ErrNoPendingRequest),
		errors.Is(err, ErrExpiredRequest),
		errors.Is(err, ErrNoRefreshToken),
		errors.Is(err, ErrNoSession),
		errors.Is(err, ErrNotFound):
		return KindConfiguration
	case errors.Is(err, ErrResponseStateInvalid),
		errors.Is(err, ErrMissingAuthCode),
		errors.Is(err, ErrLoginRequired),
		errors.Is(err, ErrMissingIdToken),
		errors.Is(err, ErrInvalidNonce),
		errors.Is(err, ErrInvalidAudience),
		errors.Is(err, ErrMissingAccessToken):
		return KindProtocol
	case errors.Is(err, ErrUserCancelled),
		errors.Is(err, ErrFlowSuperseded):
		return KindUserCancelled
	default:
		return KindUnknown
	}
}
