// Package transport defines the request pipeline used by chronicle.
//
// A pipeline is a chain of stages. Each stage implements Handler: it
// receives the inbound *http.Request together with the Response built so
// far and returns the Response to send. Middleware wraps a Handler to add
// behavior before and after the stages it encloses, which is how the
// signature gate sits in front of identity-dependent handlers.
//
// Responses are buffered values rather than streamed writes so a stage can
// substitute, inspect or sign the response produced further down the chain.
// The HTTP adapter in pkg/transport/http converts between net/http and the
// pipeline.
//
// # Middleware
//
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID) and structured logging via log/slog.
package transport
