package oidc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPendingRequest(t *testing.T) *Req {
	t.Helper()
	r, err := NewRequest(1*time.Minute, "http://localhost:8080/callback")
	require.NoError(t, err)
	return r
}

func TestRegistry_register(t *testing.T) {
	t.Parallel()
	t.Run("first-registration", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		reg := newRegistry()
		req := testPendingRequest(t)
		entry, superseded := reg.register(req, ChannelBrowser)
		require.NotNil(entry)
		assert.Nil(superseded)
		assert.Equal(req.Id(), entry.id)
		assert.Equal(ChannelBrowser, entry.kind)
		assert.Equal(req.Id(), reg.outstanding())
	})
	t.Run("supersedes-outstanding-flow", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		reg := newRegistry()
		first, _ := reg.register(testPendingRequest(t), ChannelBrowser)
		second, superseded := reg.register(testPendingRequest(t), ChannelBrowser)
		require.NotNil(superseded)
		assert.Equal(first.id, superseded.id)
		assert.Equal(second.id, reg.outstanding())

		// the superseded flow's completion must now be a no-op
		_, ok := reg.complete(first.id, &AuthorizationResponse{Code: "c"}, nil)
		assert.False(ok)
		select {
		case <-first.result:
			t.Fatal("superseded entry must not receive a result from the registry")
		default:
		}
	})
}

func TestRegistry_complete(t *testing.T) {
	t.Parallel()
	t.Run("delivers-to-waiter", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		reg := newRegistry()
		entry, _ := reg.register(testPendingRequest(t), ChannelBrowser)
		kind, ok := reg.complete(entry.id, &AuthorizationResponse{Code: "test-code", State: "test-state"}, nil)
		require.True(ok)
		assert.Equal(ChannelBrowser, kind)
		got := <-entry.result
		require.NoError(got.err)
		require.NotNil(got.response)
		assert.Equal("test-code", got.response.Code)
		assert.Empty(reg.outstanding())
	})
	t.Run("duplicate-completion-is-a-no-op", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		reg := newRegistry()
		entry, _ := reg.register(testPendingRequest(t), ChannelBrowser)
		_, ok := reg.complete(entry.id, &AuthorizationResponse{Code: "first"}, nil)
		require.True(ok)
		_, ok = reg.complete(entry.id, &AuthorizationResponse{Code: "second"}, nil)
		assert.False(ok)
		got := <-entry.result
		assert.Equal("first", got.response.Code)
		select {
		case extra := <-entry.result:
			t.Fatalf("got a second result: %+v", extra)
		default:
		}
	})
	t.Run("unknown-flow-is-a-no-op", func(t *testing.T) {
		assert := assert.New(t)
		reg := newRegistry()
		_, ok := reg.complete("flow_unknown", &AuthorizationResponse{Code: "c"}, nil)
		assert.False(ok)
	})
	t.Run("concurrent-completions-deliver-exactly-once", func(t *testing.T) {
		assert := assert.New(t)
		reg := newRegistry()
		entry, _ := reg.register(testPendingRequest(t), ChannelBrowser)

		var wg sync.WaitGroup
		var mu sync.Mutex
		delivered := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := reg.complete(entry.id, &AuthorizationResponse{Code: "c"}, nil); ok {
					mu.Lock()
					delivered++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(1, delivered)
		<-entry.result
		select {
		case <-entry.result:
			t.Fatal("result channel must hold at most one result")
		default:
		}
	})
}

func TestRegistry_remove(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	reg := newRegistry()
	entry, _ := reg.register(testPendingRequest(t), ChannelSilent)
	reg.remove(entry.id)
	assert.Empty(reg.outstanding())
	_, ok := reg.complete(entry.id, &AuthorizationResponse{Code: "c"}, nil)
	assert.False(ok)

	// removing an id that isn't outstanding leaves the registry alone
	entry2, _ := reg.register(testPendingRequest(t), ChannelSilent)
	reg.remove("flow_other")
	assert.Equal(entry2.id, reg.outstanding())
}

func TestPendingEntry_deliver(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	entry := &pendingEntry{id: "flow_x", result: make(chan flowResult, 1)}
	assert.True(entry.deliver(nil, ErrUserCancelled))
	assert.False(entry.deliver(&AuthorizationResponse{Code: "late"}, nil))
	got := <-entry.result
	assert.ErrorIs(got.err, ErrUserCancelled)
}
