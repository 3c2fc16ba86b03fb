package server

import "net/http"

// writeCORSHeaders appends bare-server's fixed CORS policy (§4.G): every
// response, success or error, carries a wildcard allow-everything set.
// Grounded on the teacher's app/proxy/cors.go handlePreflight/
// handleActualRequest, collapsed from the teacher's configurable
// allow-list down to spec.md's unconditional wildcard — bare-server has no
// per-route CORS configuration.
func writeCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "*")
	h.Set("Access-Control-Allow-Methods", "*")
	h.Set("Access-Control-Expose-Headers", "*")
	h.Set("Access-Control-Max-Age", "7200")
	h.Set("X-Robots-Tag", "noindex")
}
