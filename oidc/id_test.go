package oidc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewId(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		opt        []Option
		wantPrefix string
	}{
		{name: "no-prefix"},
		{name: "with-prefix", opt: []Option{WithPrefix("flow")}, wantPrefix: "flow_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			id, err := NewId(tt.opt...)
			require.NoError(err)
			require.NotEmpty(id)
			if tt.wantPrefix != "" {
				assert.True(strings.HasPrefix(id, tt.wantPrefix))
			}

			// ids must never repeat
			again, err := NewId(tt.opt...)
			require.NoError(err)
			assert.NotEqual(id, again)
		})
	}
}
