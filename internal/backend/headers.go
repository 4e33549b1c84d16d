package backend

import (
	"net/http"
	"strings"
)

// hopHeaders apply to a single connection and are never forwarded.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// IsHopHeader reports whether the named header is connection-scoped.
func IsHopHeader(name string) bool {
	_, ok := hopHeaders[http.CanonicalHeaderKey(name)]
	return ok
}

// CopyHeaders adds every end-to-end header of src to dst. Fields named by
// src's Connection header are treated as hop-by-hop as well.
func CopyHeaders(dst, src http.Header) {
	named := connectionTokens(src)

	for name, values := range src {
		if IsHopHeader(name) {
			continue
		}
		if _, ok := named[name]; ok {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// RequestHeaders returns the headers to send upstream for an inbound request.
// Host and Content-Length are dropped since the client regenerates both.
func RequestHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	CopyHeaders(out, in)
	out.Del("Host")
	out.Del("Content-Length")
	return out
}

func connectionTokens(h http.Header) map[string]struct{} {
	values := h.Values("Connection")
	if len(values) == 0 {
		return nil
	}

	tokens := make(map[string]struct{})
	for _, v := range values {
		for _, field := range strings.Split(v, ",") {
			if field = strings.TrimSpace(field); field != "" {
				tokens[http.CanonicalHeaderKey(field)] = struct{}{}
			}
		}
	}
	return tokens
}
