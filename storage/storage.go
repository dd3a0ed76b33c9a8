// Package storage persists pending authorization requests for redirect
// flows, where the provider's callback arrives out of band and possibly in
// a different process than the one that started the flow.
//
// Two stores are provided: InMem for single process services and Redis for
// services running more than one replica behind a load balancer.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by GetAndDelete when no record is stored under
// the given state, because it never existed, expired, or was already
// consumed.
var ErrNotFound = errors.New("pending authorization not found")

// PendingAuthorization is the persisted half of a redirect flow: enough of
// the original request to finish the flow when the provider's callback
// arrives. Records are keyed by State, which is unique per request.
type PendingAuthorization struct {
	FlowId       string    `json:"flow_id"`
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURL  string    `json:"redirect_url"`
	Scopes       []string  `json:"scopes,omitempty"`
	Audiences    []string  `json:"audiences,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RequestStore stores pending authorizations between the start of a
// redirect flow and its callback. Implementations must be safe for
// concurrent use.
type RequestStore interface {
	// Put stores rec under rec.State. The store may drop the record any
	// time after rec.ExpiresAt.
	Put(ctx context.Context, rec PendingAuthorization) error

	// GetAndDelete returns the record stored under state and removes it
	// in the same step, so every record is consumed at most once. It
	// returns ErrNotFound when there is nothing to consume.
	GetAndDelete(ctx context.Context, state string) (PendingAuthorization, error)
}
