package instrumentation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inst, err := New(Config{Enabled: true})
	require.NoError(t, err)
	m := inst.Metrics()

	tests := []struct {
		name   string
		record func()
	}{
		{
			name:   "flow-started",
			record: func() { m.RecordFlowStarted(ctx, "browser") },
		},
		{
			name:   "flow-completed-ok",
			record: func() { m.RecordFlowCompleted(ctx, "redirect", nil) },
		},
		{
			name:   "flow-completed-error",
			record: func() { m.RecordFlowCompleted(ctx, "silent", errors.New("denied")) },
		},
		{
			name:   "flow-superseded",
			record: func() { m.RecordFlowSuperseded(ctx, "browser") },
		},
		{
			name:   "token-request-ok",
			record: func() { m.RecordTokenRequest(ctx, "authorization_code", 120*time.Millisecond, nil) },
		},
		{
			name:   "token-request-error",
			record: func() { m.RecordTokenRequest(ctx, "refresh_token", time.Second, errors.New("boom")) },
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			require.NotPanics(t, tt.record)
		})
	}
}

func TestMetrics_NilReceiver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordFlowStarted(ctx, "browser")
		m.RecordFlowCompleted(ctx, "browser", nil)
		m.RecordFlowSuperseded(ctx, "browser")
		m.RecordTokenRequest(ctx, "authorization_code", time.Second, nil)
	})
}
