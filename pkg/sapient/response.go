package sapient

import (
	"net/http"

	"github.com/rhuss/chronicle/pkg/observability"
	"github.com/rhuss/chronicle/pkg/transport"
)

// SignResponse returns a copy of resp carrying a signature of its body.
func SignResponse(resp *transport.Response, signer Signer) *transport.Response {
	out := resp.Clone()
	out.Header.Set(SignatureHeader, EncodeSignature(signer.Sign(out.Body)))
	observability.ResponsesSignedTotal.Inc()
	return out
}

// SignResponses returns middleware that signs every response leaving the
// wrapped handler, rejections included.
func SignResponses(signer Signer) transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(r *http.Request, resp *transport.Response) *transport.Response {
			return SignResponse(transport.Reconcile(next.Serve(r, resp), resp), signer)
		})
	}
}
