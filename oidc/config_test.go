package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		clientId     string
		redirectURL  string
		opt          []Option
		wantErr      bool
		wantIsErr    error
		wantScopes   []string
		wantSecret   ClientSecret
		wantEndpoint Endpoints
	}{
		{
			name:         "valid-with-defaults",
			clientId:     "client-id",
			redirectURL:  "http://127.0.0.1:6571/callback",
			wantScopes:   []string{ScopeOffline},
			wantEndpoint: DefaultEndpoints(),
		},
		{
			name:        "valid-with-overrides",
			clientId:    "client-id",
			redirectURL: "http://127.0.0.1:6571/callback",
			opt: []Option{
				WithEndpoints(Endpoints{
					Authorization: "https://idp.example.com/auth",
					Token:         "https://idp.example.com/token",
				}),
				WithClientSecret("secret"),
				WithScopes("profile", "email"),
			},
			wantScopes: []string{"profile", "email"},
			wantSecret: "secret",
			wantEndpoint: Endpoints{
				Authorization: "https://idp.example.com/auth",
				Token:         "https://idp.example.com/token",
			},
		},
		{
			name:        "explicitly-empty-scopes",
			clientId:    "client-id",
			redirectURL: "http://127.0.0.1:6571/callback",
			opt:         []Option{WithScopes()},
			wantScopes:  nil,
		},
		{
			name:        "missing-client-id",
			redirectURL: "http://127.0.0.1:6571/callback",
			wantErr:     true,
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:      "missing-redirect-url",
			clientId:  "client-id",
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:        "bad-redirect-scheme",
			clientId:    "client-id",
			redirectURL: "ftp://127.0.0.1/callback",
			wantErr:     true,
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:        "bad-endpoint",
			clientId:    "client-id",
			redirectURL: "http://127.0.0.1:6571/callback",
			opt: []Option{WithEndpoints(Endpoints{
				Authorization: "not a url",
				Token:         "https://idp.example.com/token",
			})},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:        "unsupported-alg",
			clientId:    "client-id",
			redirectURL: "http://127.0.0.1:6571/callback",
			opt:         []Option{WithSigningAlgs(Alg("HS256"))},
			wantErr:     true,
			wantIsErr:   ErrUnsupportedAlg,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, err := NewConfig(tt.clientId, tt.redirectURL, tt.opt...)
			if tt.wantErr {
				require.Error(err)
				assert.True(errors.Is(err, tt.wantIsErr))
				return
			}
			require.NoError(err)
			assert.Equal(tt.clientId, c.ClientId)
			assert.Equal(tt.redirectURL, c.RedirectURL)
			assert.Equal(tt.wantScopes, c.Scopes)
			assert.Equal(tt.wantSecret, c.ClientSecret)
			assert.Equal(tt.wantEndpoint, c.Endpoints)
		})
	}
}

func TestConfig_Validate_reportsAllFailures(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c := &Config{}
	err := c.Validate()
	require.Error(err)
	// client id, redirect URL, authorization endpoint and token endpoint are
	// all missing and all of them must be reported.
	for _, want := range []string{
		"client id is empty",
		"redirect URL is empty",
		"authorization endpoint is empty",
		"token endpoint is empty",
	} {
		assert.Contains(err.Error(), want)
	}
}

func TestConfig_Validate_nil(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	var c *Config
	err := c.Validate()
	assert.True(errors.Is(err, ErrNilParameter))
}

func TestClientSecret_redaction(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	secret := ClientSecret("super-secret")

	assert.Equal(RedactedClientSecret, secret.String())
	assert.Equal(RedactedClientSecret, fmt.Sprintf("%s", secret))
	assert.Equal(RedactedClientSecret, fmt.Sprintf("%v", secret))

	j, err := json.Marshal(secret)
	require.NoError(err)
	assert.Equal(`"`+RedactedClientSecret+`"`, string(j))
}

func TestNewConfigFromIssuer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("discovers-endpoints", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c, err := NewConfigFromIssuer(ctx, tp.Addr(), "client-id", "http://127.0.0.1:6571/callback",
			WithProviderCA(tp.CACert()))
		require.NoError(err)
		assert.Equal(tp.Addr(), c.Issuer)
		assert.Equal(tp.Addr()+"/authorize", c.Endpoints.Authorization)
		assert.Equal(tp.Addr()+"/token", c.Endpoints.Token)
		assert.Equal(tp.Addr()+"/userinfo", c.Endpoints.UserInfo)
		assert.Equal(tp.Addr()+"/logout", c.Endpoints.Revocation)
	})

	t.Run("empty-issuer", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewConfigFromIssuer(ctx, "", "client-id", "http://127.0.0.1:6571/callback")
		assert.True(errors.Is(err, ErrInvalidIssuer))
	})

	t.Run("unreachable-issuer", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewConfigFromIssuer(ctx, "https://127.0.0.1:1", "client-id", "http://127.0.0.1:6571/callback")
		assert.Error(err)
	})
}
