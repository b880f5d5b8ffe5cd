package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// Response is a buffered HTTP response travelling through the pipeline.
// Stages treat responses as values: helpers such as WithJSON return a new
// Response and leave the receiver untouched.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse returns an empty 200 response.
func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
	}
}

// WellFormed reports whether the response can be written to a client.
func (r *Response) WellFormed() bool {
	return r != nil && r.Header != nil && r.StatusCode >= 100 && r.StatusCode <= 599
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       bytes.Clone(r.Body),
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	return out
}

// WithJSON returns a copy of the response with status and a JSON body.
func (r *Response) WithJSON(status int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := r.Clone()
	if out == nil {
		out = NewResponse()
	}
	out.StatusCode = status
	out.Header.Set("Content-Type", "application/json")
	out.Body = body
	return out, nil
}

// WriteTo copies the response onto an http.ResponseWriter.
func (r *Response) WriteTo(w http.ResponseWriter) error {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(r.StatusCode)
	if len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}
