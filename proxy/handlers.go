package proxy

import (
	"net/http"

	"github.com/AdguardTeam/abpfilter/rules"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/gomitmproxy"
	"github.com/AdguardTeam/gomitmproxy/proxyutil"
)

// onRequest handles the outgoing HTTP requests.
func (s *Server) onRequest(sess *gomitmproxy.Session) (req *http.Request, res *http.Response) {
	r := sess.Request()
	session := NewSession(sess.ID(), r)

	s.logger.Debug("saving session", "id", session.ID)
	sess.SetProp(sessionPropKey, session)

	if r.Method == http.MethodConnect {
		return nil, nil
	}

	session.Result = s.filter.Block(session.Request)
	if session.Result != nil {
		s.logger.Debug(
			"blocked",
			"id", session.ID,
			"url", session.Request.URL,
			"reason", session.Result.Reason(),
		)

		// Mark the request as blocked so that onResponse doesn't touch it.
		sess.SetProp(requestBlockedKey, true)

		return nil, newBlockedResponse(s.logger, session)
	}

	if isPage(session.Request.RequestType) {
		// Let the transport decompress the page so that styles can be
		// injected into it.
		r.Header.Del(httphdr.AcceptEncoding)

		if s.shouldSuppressCache() {
			suppressCache(r)
		}
	}

	return r, nil
}

// onResponse handles the responses.
func (s *Server) onResponse(sess *gomitmproxy.Session) (res *http.Response) {
	if _, ok := sess.GetProp(requestBlockedKey); ok {
		return nil
	}

	v, ok := sess.GetProp(sessionPropKey)
	if !ok {
		s.logger.Error("session not found", "id", sess.ID())

		return nil
	}

	session, ok := v.(*Session)
	if !ok {
		s.logger.Error("session has bad type", "id", sess.ID())

		return nil
	}

	session.SetResponse(sess.Response())

	// The content type may change the request type, so match again.
	session.Result = s.filter.Block(session.Request)
	if session.Result != nil {
		s.logger.Debug(
			"blocked after response",
			"id", session.ID,
			"url", session.Request.URL,
			"reason", session.Result.Reason(),
		)

		return newBlockedResponse(s.logger, session)
	}

	if !isPage(session.Request.RequestType) || !isHTML(session.MediaType) {
		return nil
	}

	err := s.filterHTML(session)
	if err != nil {
		s.logger.Error("filtering html", "id", session.ID, slogutil.KeyError, err)

		return proxyutil.NewErrorResponse(session.HTTPRequest, err)
	}

	return session.HTTPResponse
}

// isPage returns true if requests of type t load pages or frames.
func isPage(t rules.RequestType) (ok bool) {
	return t == rules.TypeDocument || t == rules.TypeSubdocument
}

// isHTML returns true if mediaType is an HTML media type.
func isHTML(mediaType string) (ok bool) {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
