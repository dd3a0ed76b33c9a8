/*
oidc is a package for obtaining and refreshing an OAuth2/OIDC identity for a
user, so the identity can authorize calls made through a chain RPC provider
pipeline. It drives the OIDC authorization code flow (with PKCE and refresh
tokens) across three delivery channels and normalizes their heterogeneous
failures into one error model.

Primary types provided by the package

* Manager: orchestrates authorization flows. It builds a Request, registers a
pending entry, delegates to the selected delivery channel, awaits the channel's
completion, and exchanges the resulting authorization code for tokens. It also
exposes the token lifecycle directly (RequestAccessToken, RefreshAccessToken,
FetchUserInfo, SignOut) and bridges to oauth2.TokenSource for callers that
authorize outbound requests.

* Channel: the delivery mechanism for one authorization attempt. ChannelBrowser
opens the system browser and listens on the loopback redirect URL,
ChannelRedirect hands the caller an authorization URL and completes later via
SignInCallback (persisting the pending request in a storage.RequestStore), and
ChannelSilent renews a session non-interactively with prompt=none.

* Request: represents one authorization attempt. Every Request carries a fresh
correlation id, state, nonce and PKCE verifier; none of them are ever reused
across attempts.

* Token: an access token plus its optional refresh and id tokens. Access,
refresh and id tokens are redacted types, so they are safe to log.

* Config: client id, redirect URL and the provider Endpoints (authorization,
token, userinfo and revocation). Endpoints default to the hosted provider and
can be discovered from an issuer with NewConfigFromIssuer.

The oidc/callback package provides http.HandlerFunc adapters for the redirect
channel's callback leg.

The package includes a TestProvider that runs an in-memory OIDC provider for
tests.
*/
package oidc
