package proxy

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/gomitmproxy/proxyutil"
)

// blockedPageHTML is the template of the page returned for blocked requests.
const blockedPageHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Blocked</title>
</head>
<body>
<h1>Request to {{.Hostname}} is blocked</h1>
<p>Rule: <code>{{.RuleText}}</code></p>
<p>Subscription: {{.Subscription}}</p>
</body>
</html>
`

var blockedPageTmpl = template.Must(template.New("blockedPage").Parse(blockedPageHTML))

type blockedPageParameters struct {
	Hostname     string
	RuleText     string
	Subscription string
}

// buildBlockedPage builds the blocked page content.
func buildBlockedPage(logger *slog.Logger, session *Session) (page string) {
	params := blockedPageParameters{
		Hostname:     session.Request.Hostname,
		RuleText:     session.Result.Rule.Text(),
		Subscription: session.Result.Subscription,
	}

	data := &bytes.Buffer{}
	err := blockedPageTmpl.Execute(data, params)
	if err != nil {
		logger.Error("building blocked page", slogutil.KeyError, err)

		return ""
	}

	return data.String()
}

// newBlockedResponse creates an HTTP response for a blocked request.
func newBlockedResponse(logger *slog.Logger, session *Session) (res *http.Response) {
	body := bytes.NewReader([]byte(buildBlockedPage(logger, session)))
	res = proxyutil.NewResponse(http.StatusInternalServerError, body, session.HTTPRequest)
	res.Close = true
	res.Header.Set(httphdr.ContentType, "text/html; charset=utf-8")

	return res
}
