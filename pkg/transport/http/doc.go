// Package http serves chronicle pipelines over net/http: an Adapter that
// turns a transport.Handler into an http.Handler, and a chi based Server
// with health, readiness and metrics endpoints.
package http
