package proxy

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/AdguardTeam/golibs/httphdr"
)

// hidingStyle returns the CSS hiding the elements of the page at pageURL or an
// empty string if there is nothing to hide.
func (s *Server) hidingStyle(pageURL string) (css string) {
	var selectors []string
	for _, sel := range []string{
		s.manager.ElementHidingRules(),
		s.manager.ElementHidingRulesForDomain(pageURL),
	} {
		if sel != "" {
			selectors = append(selectors, sel)
		}
	}

	if len(selectors) == 0 {
		return ""
	}

	// Selectors can't close the style element.
	sel := strings.ReplaceAll(strings.Join(selectors, ","), "<", `\3c `)

	return fmt.Sprintf("<style type=\"text/css\">%s { display: none !important; }</style>", sel)
}

// filterHTML replaces the body of the response with the one with the element
// hiding style injected.  Compressed bodies are left as is.
func (s *Server) filterHTML(session *Session) (err error) {
	if !s.filter.CanBeBlocked(session.Request.URL) {
		return nil
	}

	r := session.HTTPResponse
	if enc := r.Header.Get(httphdr.ContentEncoding); enc != "" && !strings.EqualFold(enc, "identity") {
		s.logger.Debug("not filtering encoded body", "id", session.ID, "encoding", enc)

		return nil
	}

	style := s.hidingStyle(session.Request.URL)
	if style == "" {
		return nil
	}

	latin1 := isLatin1(session.Charset)

	var body string
	if latin1 {
		body, err = decodeLatin1(r.Body)
	} else {
		var b []byte
		b, err = io.ReadAll(r.Body)
		body = string(b)
	}

	closeErr := r.Body.Close()
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	} else if closeErr != nil {
		return fmt.Errorf("closing body: %w", closeErr)
	}

	body = injectStyle(body, style)

	modified := []byte(body)
	if latin1 {
		modified, err = encodeLatin1(body)
		if err != nil {
			return fmt.Errorf("encoding body: %w", err)
		}
	}

	r.Body = io.NopCloser(bytes.NewReader(modified))
	r.ContentLength = int64(len(modified))
	r.Header.Set(httphdr.ContentLength, strconv.Itoa(len(modified)))

	return nil
}

// isLatin1 returns true if charset is one of the names of Latin-1.
func isLatin1(charset string) (ok bool) {
	switch charset {
	case "iso-8859-1", "latin1", "l1", "iso_8859-1", "cp819":
		return true
	default:
		return false
	}
}

// injectStyle inserts style before the end of the head of the document.  If
// there is no head, the style is inserted after the opening body tag or at the
// beginning of the document.
func injectStyle(body, style string) (res string) {
	if i := indexFold(body, "</head>"); i >= 0 {
		return body[:i] + style + body[i:]
	}

	if i := indexFold(body, "<body"); i >= 0 {
		if end := strings.IndexByte(body[i:], '>'); end >= 0 {
			i += end + 1

			return body[:i] + style + body[i:]
		}
	}

	return style + body
}

// indexFold returns the index of the first occurrence of the ASCII string
// substr in s ignoring the case, or -1.
func indexFold(s, substr string) (i int) {
	n := len(substr)
	for i = 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}

	return -1
}
