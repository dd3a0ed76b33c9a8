package oidc

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBrowserDelivery wires one Deliver call up for inspection: the
// request it went out for and a channel the completion lands on.
type testBrowserDelivery struct {
	req *Req
	got chan flowResult
}

func startBrowserDelivery(t *testing.T, ctx context.Context, c *BrowserChannel) *testBrowserDelivery {
	t.Helper()
	require := require.New(t)
	d := &testBrowserDelivery{
		req: testLoopbackRequest(t),
		got: make(chan flowResult, 1),
	}
	complete := func(id string, resp *AuthorizationResponse, err error) {
		d.got <- flowResult{response: resp, err: err}
	}
	err := c.Deliver(ctx, d.req, "https://provider.example.com/authorize", complete)
	require.NoError(err)
	return d
}

func testLoopbackRequest(t *testing.T) *Req {
	t.Helper()
	require := require.New(t)
	req, err := NewRequest(1*time.Minute, fmt.Sprintf("http://127.0.0.1:%d/callback", testFreePort(t)))
	require.NoError(err)
	return req
}

func TestBrowserChannel_Deliver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t.Run("collects-the-loopback-callback", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		opened := make(chan string, 1)
		c := NewBrowserChannel(WithBrowserOpener(func(u string) error {
			opened <- u
			return nil
		}))
		d := startBrowserDelivery(t, ctx, c)
		assert.Equal("https://provider.example.com/authorize", <-opened)

		resp, err := http.Get(d.req.RedirectURL() + "?state=" + d.req.State() + "&code=test-code")
		require.NoError(err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(err)
		assert.Contains(string(body), "Signed in")

		res := <-d.got
		require.NoError(res.err)
		require.NotNil(res.response)
		assert.Equal("test-code", res.response.Code)
		assert.Equal(d.req.State(), res.response.State)
	})
	t.Run("serves-the-failure-page-on-a-denial", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		c := NewBrowserChannel(WithBrowserOpener(func(string) error { return nil }))
		d := startBrowserDelivery(t, ctx, c)

		resp, err := http.Get(d.req.RedirectURL() + "?state=" + d.req.State() + "&error=access_denied")
		require.NoError(err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(err)
		assert.Contains(string(body), "Sign in failed")

		res := <-d.got
		require.Error(res.err)
		assert.Equal(KindProtocol, KindOf(res.err))
	})
	t.Run("fails-when-the-port-is-taken", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		req := testLoopbackRequest(t)
		u, err := url.Parse(req.RedirectURL())
		require.NoError(err)
		ln, err := net.Listen("tcp", u.Host)
		require.NoError(err)
		defer ln.Close()

		c := NewBrowserChannel(WithBrowserOpener(func(string) error { return nil }))
		err = c.Deliver(ctx, req, "https://provider.example.com/authorize", func(string, *AuthorizationResponse, error) {
			t.Error("complete must not be called when delivery never began")
		})
		require.Error(err)
		assert.Equal(KindConfiguration, KindOf(err))
	})
	t.Run("fails-when-the-browser-cannot-open", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		req := testLoopbackRequest(t)
		c := NewBrowserChannel(WithBrowserOpener(func(string) error {
			return fmt.Errorf("no DISPLAY")
		}))
		err := c.Deliver(ctx, req, "https://provider.example.com/authorize", func(string, *AuthorizationResponse, error) {
			t.Error("complete must not be called when delivery never began")
		})
		require.Error(err)
		assert.Equal(KindConfiguration, KindOf(err))

		// the listener must be gone so the port can be reused
		u, err := url.Parse(req.RedirectURL())
		require.NoError(err)
		require.Eventually(func() bool {
			ln, lerr := net.Listen("tcp", u.Host)
			if lerr != nil {
				return false
			}
			ln.Close()
			return true
		}, 2*time.Second, 10*time.Millisecond)
	})
	t.Run("times-out", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		c := NewBrowserChannel(
			WithBrowserOpener(func(string) error { return nil }),
			WithBrowserTimeout(50*time.Millisecond),
		)
		d := startBrowserDelivery(t, ctx, c)
		res := <-d.got
		require.Error(res.err)
		assert.ErrorIs(res.err, ErrUserCancelled)
	})
	t.Run("stops-when-the-context-is-done", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		c := NewBrowserChannel(WithBrowserOpener(func(string) error { return nil }))
		dctx, cancel := context.WithCancel(ctx)
		d := startBrowserDelivery(t, dctx, c)
		cancel()
		res := <-d.got
		require.Error(res.err)
		assert.ErrorIs(res.err, ErrUserCancelled)
	})
}

func TestBrowserChannel_Kind(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ChannelBrowser, NewBrowserChannel().Kind())
}
