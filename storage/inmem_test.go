package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMem(t *testing.T) {
	t.Parallel()
	testRequestStore(t, NewInMem())
}

func TestInMem_expiry(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	s := NewInMem()
	ctx := context.Background()

	rec := testPending("st_short_lived", 50*time.Millisecond)
	require.NoError(s.Put(ctx, rec))
	time.Sleep(100 * time.Millisecond)
	_, err := s.GetAndDelete(ctx, rec.State)
	assert.ErrorIs(err, ErrNotFound)
}
