package transport

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID returns middleware that assigns a unique request ID to each
// request. If the incoming request context already carries a request ID
// (set by the HTTP adapter from the X-Request-ID header), that value is
// used. Otherwise, a new unique ID is generated. The ID is echoed on the
// response.
func RequestID() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(r *http.Request, resp *Response) *Response {
			id := RequestIDFromContext(r.Context())
			if id == "" {
				id = uuid.NewString()
				r = r.WithContext(ContextWithRequestID(r.Context(), id))
			}

			out := Reconcile(next.Serve(r, resp), resp).Clone()
			out.Header.Set(RequestIDHeader, id)
			return out
		})
	}
}
