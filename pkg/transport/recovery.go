package transport

import (
	"fmt"
	"log/slog"
	"net/http"
)

// Recovery returns middleware that catches panics in the handlers it wraps
// and converts them to a 500 error envelope. The server continues to accept
// new requests after a panic is recovered.
func Recovery() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(r *http.Request, resp *Response) (out *Response) {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("panic in request pipeline",
						"path", r.URL.Path,
						"request_id", RequestIDFromContext(r.Context()),
						"panic", fmt.Sprint(rec),
					)
					out = BuildError(resp, "internal server error", http.StatusInternalServerError)
				}
			}()
			return next.Serve(r, resp)
		})
	}
}
