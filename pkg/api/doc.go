// Package api defines the wire types chronicle writes to clients: the JSON
// envelope used for both success and error responses, and the error
// categories the transport maps to HTTP status codes.
//
// The package has no external dependencies and performs no I/O.
package api
