package oidc

import (
	"sync"
)

// flowResult is the outcome of one authorization flow, as read by the
// single goroutine waiting on the flow.
type flowResult struct {
	response *AuthorizationResponse
	err      error
}

// pendingEntry is one outstanding authorization flow: the request that
// started it, the channel kind it went out on, and the result channel its
// waiter is blocked on. The once makes completion idempotent, whichever of
// the channel callback, the supersession policy or the waiter's own
// context gets there first, later completions are no-ops.
type pendingEntry struct {
	id      string
	request Request
	kind    ChannelKind

	result chan flowResult
	once   sync.Once
}

// deliver hands the outcome to the entry's waiter. It reports false when
// the entry was already completed. The result channel is buffered so
// deliver never blocks, even when the waiter already gave up.
func (e *pendingEntry) deliver(resp *AuthorizationResponse, err error) bool {
	delivered := false
	e.once.Do(func() {
		e.result <- flowResult{response: resp, err: err}
		delivered = true
	})
	return delivered
}

// registry tracks the outstanding authorization flow. There is at most
// one: starting a new flow supersedes whatever flow was outstanding, and
// completions are matched by flow id so a completion for a superseded or
// finished flow falls on the floor.
type registry struct {
	mu      sync.Mutex
	current *pendingEntry
}

func newRegistry() *registry {
	return &registry{}
}

// register makes req the outstanding flow and returns its entry, plus the
// entry it displaced when one was outstanding. The caller owns telling the
// displaced entry's waiter that its flow was superseded.
func (r *registry) register(req Request, kind ChannelKind) (entry *pendingEntry, superseded *pendingEntry) {
	entry = &pendingEntry{
		id:      req.Id(),
		request: req,
		kind:    kind,
		result:  make(chan flowResult, 1),
	}
	r.mu.Lock()
	superseded = r.current
	r.current = entry
	r.mu.Unlock()
	return entry, superseded
}

// complete resolves the outstanding flow identified by id, reporting the
// flow's channel kind. It reports false when that flow isn't outstanding
// anymore, which makes duplicate and stale completions harmless.
func (r *registry) complete(id string, resp *AuthorizationResponse, err error) (ChannelKind, bool) {
	r.mu.Lock()
	e := r.current
	if e == nil || e.id != id {
		r.mu.Unlock()
		return "", false
	}
	r.current = nil
	r.mu.Unlock()
	return e.kind, e.deliver(resp, err)
}

// remove forgets the flow identified by id without delivering anything,
// for flows whose delivery never began.
func (r *registry) remove(id string) {
	r.mu.Lock()
	if r.current != nil && r.current.id == id {
		r.current = nil
	}
	r.mu.Unlock()
}

// outstanding reports the id of the outstanding flow, or "".
func (r *registry) outstanding() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return ""
	}
	return r.current.id
}
