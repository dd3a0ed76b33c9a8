package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// maxReplyBytes bounds how much of a provider reply is read. Token and
// userinfo replies are small; anything larger is not a reply we want.
const maxReplyBytes = 1 << 20

const (
	msgUnknownError         = "unknown error"
	msgUnknownCouldNotParse = "unknown error, could not parse the provider's reply"
)

// transport issues the provider requests shared by the token lifecycle
// operations and funnels every reply through one parse routine, so token
// exchange, refresh, userinfo and logout all classify provider failures the
// same way.
type transport struct {
	client *http.Client
	logger hclog.Logger
}

func newTransport(client *http.Client, logger hclog.Logger) *transport {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &transport{
		client: client,
		logger: logger,
	}
}

// postForm sends an application/x-www-form-urlencoded POST to the
// endpoint. A non-empty bearer is sent as the Authorization header.
func (t *transport) postForm(ctx context.Context, endpoint string, form url.Values, bearer string) ([]byte, error) {
	const op = "transport.postForm"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.do(req, bearer)
}

// get sends a GET to the endpoint. A non-empty bearer is sent as the
// Authorization header.
func (t *transport) get(ctx context.Context, endpoint string, bearer string) ([]byte, error) {
	const op = "transport.get"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	return t.do(req, bearer)
}

func (t *transport) do(req *http.Request, bearer string) ([]byte, error) {
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, transportErr("request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, transportErr("unable to read the provider's reply", err)
	}
	t.logger.Debug("provider reply", "method", req.Method, "url", req.URL.Redacted(), "status", resp.StatusCode)
	return parseReply(resp.StatusCode, body)
}

// parseReply turns a provider reply into the body's bytes or an error.
// Every reply must be JSON, success or not. A reply that isn't is reported
// as unparseable regardless of its status code. A parseable success returns
// the body for the caller to decode; a parseable failure is reported with
// whatever message the provider embedded, or as unknown when it embedded
// none.
func parseReply(status int, body []byte) ([]byte, error) {
	var reply interface{}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, transportErr(msgUnknownCouldNotParse, err)
	}
	if status >= 200 && status < 300 {
		return body, nil
	}
	code, description := providerErrorMessage(reply)
	if code == "" {
		return nil, transportErr(msgUnknownError, fmt.Errorf("status %d", status))
	}
	return nil, protocolErr(&AuthError{Code: code, Description: description}, fmt.Sprintf("provider error (status %d)", status), nil)
}

// providerErrorMessage digs the provider's error message out of a parsed
// failure reply. The error field is either an object with a message, the
// way RPC style providers reply, or the plain oauth2 error string with an
// optional error_description next to it.
func providerErrorMessage(reply interface{}) (code string, description string) {
	m, ok := reply.(map[string]interface{})
	if !ok {
		return "", ""
	}
	switch errField := m["error"].(type) {
	case map[string]interface{}:
		if msg, ok := errField["message"].(string); ok {
			return msg, ""
		}
	case string:
		desc, _ := m["error_description"].(string)
		return errField, desc
	}
	return "", ""
}
