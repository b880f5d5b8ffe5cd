package http

import (
	"log/slog"
	"net/http"

	"github.com/rhuss/chronicle/pkg/debug"
	"github.com/rhuss/chronicle/pkg/storage"
	"github.com/rhuss/chronicle/pkg/transport"
)

// maxRequestIDLength bounds client supplied request IDs before they reach
// logs.
const maxRequestIDLength = 128

// Adapter serves a transport.Handler over net/http. It prepares the request
// (body limit, request ID, instance selection), runs the pipeline on an empty
// response and writes whatever the pipeline settled on.
type Adapter struct {
	handler transport.Handler
	config  Config
	logger  *slog.Logger
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64

	// Instances maps the ?instance= names clients may select to the table
	// prefix they stand for.
	Instances map[string]string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 10 << 20, // 10 MB
	}
}

// NewAdapter creates an HTTP adapter for h. Middleware is applied to h in
// the given order.
func NewAdapter(h transport.Handler, cfg Config, logger *slog.Logger, middlewares ...transport.Middleware) *Adapter {
	if len(middlewares) > 0 {
		h = transport.Chain(middlewares...)(h)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{handler: h, config: cfg, logger: logger}
}

// ServeHTTP implements http.Handler.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.config.MaxBodySize > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	}

	ctx := r.Context()

	// If client sent X-Request-ID, propagate it into context.
	if id := r.Header.Get(transport.RequestIDHeader); id != "" && len(id) <= maxRequestIDLength {
		ctx = transport.ContextWithRequestID(ctx, id)
	}

	if prefix, ok := a.instancePrefix(r); ok {
		ctx = storage.SetInstance(ctx, prefix)
		debug.Log(debug.Transport, "instance selected", "prefix", prefix)
	}

	r = r.WithContext(ctx)

	fallback := transport.NewResponse()
	out := transport.Reconcile(a.handler.Serve(r, fallback), fallback)

	if err := out.WriteTo(w); err != nil {
		a.logger.Debug("writing response failed", "error", err)
	}
}

// instancePrefix returns the table prefix selected with ?instance=. Unknown
// or malformed names select the default tables.
func (a *Adapter) instancePrefix(r *http.Request) (string, bool) {
	name := r.URL.Query().Get("instance")
	if name == "" || !storage.ValidInstanceName(name) {
		return "", false
	}
	prefix, ok := a.config.Instances[name]
	return prefix, ok
}
