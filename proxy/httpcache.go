package proxy

import (
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/httphdr"
)

// suppressCachePeriod is the time after the start during which pages are
// always loaded anew, so that the cached ones get the current styles.
const suppressCachePeriod = 1 * time.Minute

// shouldSuppressCache returns true if the cache of pages must be suppressed.
func (s *Server) shouldSuppressCache() (ok bool) {
	return time.Since(s.createdAt) < suppressCachePeriod
}

// suppressCache removes the conditional headers from the HTTP request.
func suppressCache(r *http.Request) {
	// Last modified time based caching.
	r.Header.Del(httphdr.IfModifiedSince)
	r.Header.Del("If-Unmodified-Since")

	// ETag based caching.
	r.Header.Del(httphdr.IfNoneMatch)
	r.Header.Del("If-Match")
	r.Header.Del("If-Range")
}
