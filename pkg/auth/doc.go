// Package auth implements the request-signature gate that guards chronicle's
// identity-dependent endpoints.
//
// A Gate extracts the Chronicle-Client-Key-ID header, resolves it to a public
// key in the directory (client or admin scope), verifies the detached body
// signature and refuses any client key that equals the server's own signing
// key. Only then is the request annotated with the verified identity and
// forwarded. Every failure is answered with a 403 error envelope built in one
// place; nothing is left for an outer error handler.
//
// The gate is a transport.Middleware and is safe for concurrent use.
package auth
