package protocol

import (
	"net/http"
	"sort"
)

// HeadersFromHTTP converts a net/http header map into an ordered list. Go
// does not keep the wire order of distinct names, so names are sorted;
// repeated values of one name keep their order.
func HeadersFromHTTP(h http.Header) Headers {
	if len(h) == 0 {
		return nil
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var out Headers
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, Header{Name: name, Value: v})
		}
	}
	return out
}

// Apply adds every header in hs to dst, preserving repeated names.
func (hs Headers) Apply(dst http.Header) {
	for _, h := range hs {
		dst.Add(h.Name, h.Value)
	}
}

// WriteHTTP copies resp onto w.
func WriteHTTP(w http.ResponseWriter, resp *Response) {
	h := w.Header()
	for _, hd := range resp.Headers {
		// net/http computes these itself.
		switch http.CanonicalHeaderKey(hd.Name) {
		case "Content-Length", "Transfer-Encoding":
			continue
		}
		h.Add(hd.Name, hd.Value)
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
