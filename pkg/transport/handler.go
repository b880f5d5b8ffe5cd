package transport

import "net/http"

// Handler is a single pipeline stage. Serve receives the request and the
// response produced so far and returns the response to use from here on.
// Returning nil means the stage produced nothing usable; callers reconcile
// that by falling back to the response they passed in.
type Handler interface {
	Serve(r *http.Request, resp *Response) *Response
}

// HandlerFunc is an adapter that allows using an ordinary function as a
// Handler.
type HandlerFunc func(r *http.Request, resp *Response) *Response

// Serve calls f(r, resp).
func (f HandlerFunc) Serve(r *http.Request, resp *Response) *Response {
	return f(r, resp)
}

// Reconcile returns out when it is well formed and fallback otherwise.
func Reconcile(out, fallback *Response) *Response {
	if out.WellFormed() {
		return out
	}
	return fallback
}
