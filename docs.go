// chainauth provides the packages a relying party needs to sign a user in
// over OAuth2/OIDC and keep the resulting identity fresh. The oidc package
// drives authorization code flows (with PKCE and refresh tokens) across
// browser, redirect and silent delivery channels, oidc/callback adapts the
// redirect leg to an http.HandlerFunc, storage holds pending redirect flows,
// and instrumentation wires the flows into OpenTelemetry.
//
// See README.md
package chainauth
