package renderer

import "net/http"

// Headers is an ordered header list. Keys keep the case they were set with.
type Headers struct {
	keys   []string
	values map[string]string
}

// NewHeaders creates an empty header list.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string]string)}
}

// Set adds or replaces a header, keeping its first position.
func (h *Headers) Set(key, value string) {
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Get returns the value for key, empty when unset.
func (h *Headers) Get(key string) string { return h.values[key] }

// Keys returns header names in insertion order.
func (h *Headers) Keys() []string { return append([]string(nil), h.keys...) }

// Len returns the number of headers.
func (h *Headers) Len() int { return len(h.keys) }

// Map returns the headers as a plain map.
func (h *Headers) Map() map[string]string {
	out := make(map[string]string, len(h.values))
	for k, v := range h.values {
		out[k] = v
	}
	return out
}

// Response is the outcome of a render.
type Response struct {
	StatusCode int
	Headers    *Headers
	Body       []byte
}

func newResponse(status int) *Response {
	return &Response{StatusCode: status, Headers: NewHeaders()}
}

// WriteTo writes the response to w in header order.
func (r *Response) WriteTo(w http.ResponseWriter) error {
	for _, key := range r.Headers.keys {
		w.Header().Set(key, r.Headers.values[key])
	}
	w.WriteHeader(r.StatusCode)
	if len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}
