package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		status       int
		body         string
		wantBody     string
		wantErr      bool
		wantKind     Kind
		wantErrMsg   string
		wantAuthCode string
		wantAuthDesc string
	}{
		{
			name:     "success",
			status:   http.StatusOK,
			body:     `{"access_token": "test-access-token"}`,
			wantBody: `{"access_token": "test-access-token"}`,
		},
		{
			name:     "success-created",
			status:   http.StatusCreated,
			body:     `{"ok": true}`,
			wantBody: `{"ok": true}`,
		},
		{
			name:       "unparseable-success",
			status:     http.StatusOK,
			body:       `<html>not json</html>`,
			wantErr:    true,
			wantKind:   KindTransport,
			wantErrMsg: msgUnknownCouldNotParse,
		},
		{
			name:       "unparseable-failure",
			status:     http.StatusBadGateway,
			body:       `upstream exploded`,
			wantErr:    true,
			wantKind:   KindTransport,
			wantErrMsg: msgUnknownCouldNotParse,
		},
		{
			name:         "failure-with-error-object",
			status:       http.StatusForbidden,
			body:         `{"error": {"message": "user is not allowed"}}`,
			wantErr:      true,
			wantKind:     KindProtocol,
			wantAuthCode: "user is not allowed",
		},
		{
			name:         "failure-with-oauth-error",
			status:       http.StatusBadRequest,
			body:         `{"error": "invalid_grant", "error_description": "code is expired"}`,
			wantErr:      true,
			wantKind:     KindProtocol,
			wantAuthCode: "invalid_grant",
			wantAuthDesc: "code is expired",
		},
		{
			name:       "failure-without-message",
			status:     http.StatusInternalServerError,
			body:       `{"oops": true}`,
			wantErr:    true,
			wantKind:   KindTransport,
			wantErrMsg: msgUnknownError,
		},
		{
			name:       "failure-with-non-object-body",
			status:     http.StatusInternalServerError,
			body:       `"just a string"`,
			wantErr:    true,
			wantKind:   KindTransport,
			wantErrMsg: msgUnknownError,
		},
		{
			name:       "failure-with-unusable-error-field",
			status:     http.StatusBadRequest,
			body:       `{"error": 42}`,
			wantErr:    true,
			wantKind:   KindTransport,
			wantErrMsg: msgUnknownError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := parseReply(tt.status, []byte(tt.body))
			if tt.wantErr {
				require.Error(err)
				assert.Equal(tt.wantKind, KindOf(err))
				var e *Err
				require.True(errors.As(err, &e))
				if tt.wantErrMsg != "" {
					assert.Equal(tt.wantErrMsg, e.Msg)
				}
				if tt.wantAuthCode != "" {
					require.NotNil(e.AuthErr)
					assert.Equal(tt.wantAuthCode, e.AuthErr.Code)
					assert.Equal(tt.wantAuthDesc, e.AuthErr.Description)
				}
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantBody, string(got))
		})
	}
}

func TestTransport_postForm(t *testing.T) {
	t.Parallel()
	t.Run("sends-form-and-bearer", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var gotContentType, gotAuthorization, gotBody string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotContentType = r.Header.Get("Content-Type")
			gotAuthorization = r.Header.Get("Authorization")
			require.NoError(r.ParseForm())
			gotBody = r.PostForm.Encode()
			w.Write([]byte(`{"ok": true}`))
		}))
		defer ts.Close()

		tr := newTransport(ts.Client(), nil)
		body, err := tr.postForm(context.Background(), ts.URL, url.Values{
			"grant_type": {"authorization_code"},
			"code":       {"test-code"},
		}, "test-bearer")
		require.NoError(err)
		assert.Equal(`{"ok": true}`, string(body))
		assert.Equal("application/x-www-form-urlencoded", gotContentType)
		assert.Equal("Bearer test-bearer", gotAuthorization)
		assert.Equal("code=test-code&grant_type=authorization_code", gotBody)
	})
	t.Run("unreachable-provider", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tr := newTransport(http.DefaultClient, nil)
		_, err := tr.postForm(context.Background(), "http://127.0.0.1:1", url.Values{}, "")
		require.Error(err)
		assert.Equal(KindTransport, KindOf(err))
	})
	t.Run("honors-context", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer ts.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		tr := newTransport(ts.Client(), nil)
		_, err := tr.postForm(ctx, ts.URL, url.Values{}, "")
		require.Error(err)
		assert.Equal(KindTransport, KindOf(err))
	})
}

func TestTransport_get(t *testing.T) {
	t.Parallel()
	t.Run("sends-bearer", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-bearer" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error": "invalid_token"}`))
				return
			}
			w.Write([]byte(`{"sub": "alice@example.com"}`))
		}))
		defer ts.Close()

		tr := newTransport(ts.Client(), nil)
		body, err := tr.get(context.Background(), ts.URL, "test-bearer")
		require.NoError(err)
		assert.Equal(`{"sub": "alice@example.com"}`, string(body))

		_, err = tr.get(context.Background(), ts.URL, "wrong-bearer")
		require.Error(err)
		assert.Equal(KindProtocol, KindOf(err))
	})
}
