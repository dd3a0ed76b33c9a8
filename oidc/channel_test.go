package oidc

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAuthResponse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		query         url.Values
		expectedState string
		wantCode      string
		wantErr       error
		wantAuthCode  string
	}{
		{
			name:          "delivers-code-and-state",
			query:         url.Values{"state": {"st_1"}, "code": {"test-code"}},
			expectedState: "st_1",
			wantCode:      "test-code",
		},
		{
			name:     "skips-the-state-check-when-unset",
			query:    url.Values{"state": {"st_whatever"}, "code": {"test-code"}},
			wantCode: "test-code",
		},
		{
			name:          "state-mismatch",
			query:         url.Values{"state": {"st_2"}, "code": {"test-code"}},
			expectedState: "st_1",
			wantErr:       ErrResponseStateInvalid,
		},
		{
			name:          "provider-error",
			query:         url.Values{"state": {"st_1"}, "error": {"access_denied"}, "error_description": {"user said no"}},
			expectedState: "st_1",
			wantAuthCode:  "access_denied",
		},
		{
			name:          "login-required",
			query:         url.Values{"state": {"st_1"}, "error": {"login_required"}},
			expectedState: "st_1",
			wantErr:       ErrLoginRequired,
			wantAuthCode:  "login_required",
		},
		{
			name:          "interaction-required",
			query:         url.Values{"state": {"st_1"}, "error": {"interaction_required"}},
			expectedState: "st_1",
			wantErr:       ErrLoginRequired,
			wantAuthCode:  "interaction_required",
		},
		{
			name:          "consent-required",
			query:         url.Values{"state": {"st_1"}, "error": {"consent_required"}},
			expectedState: "st_1",
			wantErr:       ErrLoginRequired,
			wantAuthCode:  "consent_required",
		},
		{
			name:          "missing-code",
			query:         url.Values{"state": {"st_1"}},
			expectedState: "st_1",
			wantErr:       ErrMissingAuthCode,
		},
		{
			name:          "error-wins-over-code",
			query:         url.Values{"state": {"st_1"}, "code": {"test-code"}, "error": {"server_error"}},
			expectedState: "st_1",
			wantAuthCode:  "server_error",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			resp, err := parseAuthResponse(tt.query, tt.expectedState)
			if tt.wantErr == nil && tt.wantAuthCode == "" {
				require.NoError(err)
				require.NotNil(resp)
				assert.Equal(tt.wantCode, resp.Code)
				assert.Equal(tt.query.Get("state"), resp.State)
				return
			}
			require.Error(err)
			assert.Nil(resp)
			assert.Equal(KindProtocol, KindOf(err))
			if tt.wantErr != nil {
				assert.ErrorIs(err, tt.wantErr)
			}
			if tt.wantAuthCode != "" {
				var e *Err
				require.ErrorAs(err, &e)
				require.NotNil(e.AuthErr)
				assert.Equal(tt.wantAuthCode, e.AuthErr.Code)
				assert.Equal(tt.query.Get("error_description"), e.AuthErr.Description)
			}
		})
	}
}

func TestChannelSet_get(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	browser := NewBrowserChannel()
	set := channelSet{browser.Kind(): browser}

	got, err := set.get(ChannelBrowser)
	require.NoError(err)
	assert.Same(browser, got)

	_, err = set.get(ChannelSilent)
	require.Error(err)
	assert.ErrorIs(err, ErrUnsupportedChannel)
}
