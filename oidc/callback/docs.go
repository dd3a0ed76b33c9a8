/*
Package callback provides an http.HandlerFunc adapter for redirect flows:
mount Redirect on the route your redirect URL points at, and it settles
the provider's callback through the Manager and renders the outcome with
the success and error response functions you supply.
*/
package callback
