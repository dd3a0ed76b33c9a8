package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPending(state string, expireIn time.Duration) PendingAuthorization {
	now := time.Now()
	return PendingAuthorization{
		FlowId:       "flow_" + state,
		State:        state,
		Nonce:        "n_" + state,
		CodeVerifier: "verifier-" + state,
		RedirectURL:  "http://localhost:8080/callback",
		Scopes:       []string{"openid", "offline"},
		Audiences:    []string{"alice-rp"},
		CreatedAt:    now,
		ExpiresAt:    now.Add(expireIn),
	}
}

// testRequestStore exercises the RequestStore contract against any
// implementation.
func testRequestStore(t *testing.T, s RequestStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		rec := testPending("st_round_trip", time.Minute)
		require.NoError(s.Put(ctx, rec))
		got, err := s.GetAndDelete(ctx, rec.State)
		require.NoError(err)
		assert.Equal(rec.FlowId, got.FlowId)
		assert.Equal(rec.State, got.State)
		assert.Equal(rec.Nonce, got.Nonce)
		assert.Equal(rec.CodeVerifier, got.CodeVerifier)
		assert.Equal(rec.RedirectURL, got.RedirectURL)
		assert.Equal(rec.Scopes, got.Scopes)
		assert.Equal(rec.Audiences, got.Audiences)
		assert.Equal(rec.ExpiresAt.Unix(), got.ExpiresAt.Unix())
	})
	t.Run("consumed-at-most-once", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		rec := testPending("st_consume_once", time.Minute)
		require.NoError(s.Put(ctx, rec))
		_, err := s.GetAndDelete(ctx, rec.State)
		require.NoError(err)
		_, err = s.GetAndDelete(ctx, rec.State)
		assert.ErrorIs(err, ErrNotFound)
	})
	t.Run("unknown-state", func(t *testing.T) {
		assert := assert.New(t)
		_, err := s.GetAndDelete(ctx, "st_never_stored")
		assert.ErrorIs(err, ErrNotFound)
	})
	t.Run("rejects-expired-record", func(t *testing.T) {
		assert := assert.New(t)
		assert.Error(s.Put(ctx, testPending("st_expired", -time.Minute)))
	})
	t.Run("rejects-record-without-state", func(t *testing.T) {
		assert := assert.New(t)
		rec := testPending("", time.Minute)
		assert.Error(s.Put(ctx, rec))
	})
	t.Run("concurrent-consumers-get-one-record", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		rec := testPending("st_concurrent", time.Minute)
		require.NoError(s.Put(ctx, rec))

		const consumers = 10
		var wg sync.WaitGroup
		var mu sync.Mutex
		consumed := 0
		for i := 0; i < consumers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.GetAndDelete(ctx, rec.State); err == nil {
					mu.Lock()
					consumed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(1, consumed)
	})
	t.Run("independent-records", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		for i := 0; i < 5; i++ {
			require.NoError(s.Put(ctx, testPending(fmt.Sprintf("st_multi_%d", i), time.Minute)))
		}
		got, err := s.GetAndDelete(ctx, "st_multi_3")
		require.NoError(err)
		assert.Equal("flow_st_multi_3", got.FlowId)
		for _, state := range []string{"st_multi_0", "st_multi_1", "st_multi_2", "st_multi_4"} {
			_, err := s.GetAndDelete(ctx, state)
			assert.NoError(err)
		}
	})
}
