package proxy

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/AdguardTeam/abpfilter"
	"github.com/AdguardTeam/abpfilter/rules"
	"github.com/AdguardTeam/golibs/httphdr"
)

// Session contains the data used to filter a request and its response.  It is
// updated as the request goes on.
//
// There are two stages of the HTTP request lifetime:
//  1. The request headers are received.  The resource type is guessed from the
//     request headers and the URL, and the request is blocked if a rule
//     matches.
//  2. The response headers are received.  The content type tells the resource
//     type for sure, so the request is matched again.  HTML documents that
//     aren't blocked get the element hiding styles injected.
type Session struct {
	// Request is the filtering request.
	Request *rules.Request

	// HTTPRequest is the HTTP request.
	HTTPRequest *http.Request

	// HTTPResponse is the HTTP response, if it's already received.
	HTTPResponse *http.Response

	// Result is the result of the filter, if the request is blocked.
	Result *abpfilter.Result

	// ID is the session identifier.
	ID string

	// MediaType is the media type of the response.
	MediaType string

	// Charset is the response charset, if the content type has one.
	Charset string
}

// NewSession creates a new session for the request with the given identifier.
func NewSession(id string, req *http.Request) (s *Session) {
	requestType := assumeRequestType(req, nil)

	return &Session{
		ID:          id,
		Request:     rules.NewRequest(req.URL.String(), req.Referer(), requestType),
		HTTPRequest: req,
	}
}

// SetResponse sets the response of this session.  The request type is
// recalculated using the response headers.
func (s *Session) SetResponse(res *http.Response) {
	s.HTTPResponse = res
	s.Request.RequestType = assumeRequestType(s.HTTPRequest, s.HTTPResponse)

	contentType := res.Header.Get(httphdr.ContentType)
	mediaType, params, _ := mime.ParseMediaType(contentType)

	s.MediaType = mediaType
	if charset, ok := params["charset"]; ok {
		s.Charset = strings.ToLower(charset)
	}
}

// assumeRequestType guesses the request type from what is known at this
// point.  res is nil if the response isn't received yet.
func assumeRequestType(req *http.Request, res *http.Response) (t rules.RequestType) {
	if res != nil {
		mediaType, _, _ := mime.ParseMediaType(res.Header.Get(httphdr.ContentType))
		t = assumeRequestTypeFromMediaType(mediaType)
		if t == rules.TypeXmlhttprequest || t == rules.TypeOther || t == rules.TypeDocument {
			// The headers tell XHRs and frames apart better than the
			// content type.
			if fromHeaders := assumeRequestTypeFromHeaders(req); fromHeaders != rules.TypeOther {
				return fromHeaders
			}
		}

		return t
	}

	t = assumeRequestTypeFromHeaders(req)
	if t != rules.TypeOther {
		return t
	}

	t = assumeRequestTypeFromMediaType(req.Header.Get(httphdr.Accept))
	if t == rules.TypeOther {
		t = assumeRequestTypeFromURL(req.URL)
	}

	return t
}

// Headers set by browsers that tell the request type.
const (
	hdrSecFetchDest   = "Sec-Fetch-Dest"
	hdrSecFetchMode   = "Sec-Fetch-Mode"
	hdrXRequestedWith = "X-Requested-With"
)

// fetchDestTypes maps the values of the Sec-Fetch-Dest header to request
// types.
var fetchDestTypes = map[string]rules.RequestType{
	"document": rules.TypeDocument,
	"iframe":   rules.TypeSubdocument,
	"frame":    rules.TypeSubdocument,
	"object":   rules.TypeObject,
	"embed":    rules.TypeObject,
	"script":   rules.TypeScript,
	"style":    rules.TypeStylesheet,
	"image":    rules.TypeImage,
	"font":     rules.TypeFont,
	"audio":    rules.TypeMedia,
	"video":    rules.TypeMedia,
	"track":    rules.TypeMedia,
}

// assumeRequestTypeFromHeaders guesses the request type from the headers set
// by browsers.
func assumeRequestTypeFromHeaders(req *http.Request) (t rules.RequestType) {
	if strings.EqualFold(req.Header.Get(hdrXRequestedWith), "XMLHttpRequest") {
		return rules.TypeXmlhttprequest
	}

	dest := strings.ToLower(req.Header.Get(hdrSecFetchDest))
	if destType, ok := fetchDestTypes[dest]; ok {
		return destType
	}

	if dest == "empty" && req.Header.Get(hdrSecFetchMode) == "cors" {
		return rules.TypeXmlhttprequest
	}

	return rules.TypeOther
}

// assumeRequestTypeFromMediaType guesses the request type from the media type.
func assumeRequestTypeFromMediaType(mediaType string) (t rules.RequestType) {
	switch {
	// $document
	case strings.HasPrefix(mediaType, "application/xhtml"):
		return rules.TypeDocument
	case strings.HasPrefix(mediaType, "text/html"):
		return rules.TypeDocument
	// $stylesheet
	case strings.HasPrefix(mediaType, "text/css"):
		return rules.TypeStylesheet
	// $script
	case strings.HasPrefix(mediaType, "application/javascript"):
		return rules.TypeScript
	case strings.HasPrefix(mediaType, "application/x-javascript"):
		return rules.TypeScript
	case strings.HasPrefix(mediaType, "text/javascript"):
		return rules.TypeScript
	// $image
	case strings.HasPrefix(mediaType, "image/"):
		return rules.TypeImage
	// $object
	case strings.HasPrefix(mediaType, "application/x-shockwave-flash"):
		return rules.TypeObject
	// $font
	case strings.HasPrefix(mediaType, "application/font"):
		return rules.TypeFont
	case strings.HasPrefix(mediaType, "application/vnd.ms-fontobject"):
		return rules.TypeFont
	case strings.HasPrefix(mediaType, "application/x-font-"):
		return rules.TypeFont
	case strings.HasPrefix(mediaType, "font/"):
		return rules.TypeFont
	// $media
	case strings.HasPrefix(mediaType, "audio/"):
		return rules.TypeMedia
	case strings.HasPrefix(mediaType, "video/"):
		return rules.TypeMedia
	// $json
	case strings.HasPrefix(mediaType, "application/json"):
		return rules.TypeXmlhttprequest
	}

	return rules.TypeOther
}

var fileExtensions = map[string]rules.RequestType{
	// $script
	".js":     rules.TypeScript,
	".vbs":    rules.TypeScript,
	".coffee": rules.TypeScript,
	// $image
	".jpg":  rules.TypeImage,
	".jpeg": rules.TypeImage,
	".gif":  rules.TypeImage,
	".png":  rules.TypeImage,
	".tiff": rules.TypeImage,
	".psd":  rules.TypeImage,
	".ico":  rules.TypeImage,
	// $stylesheet
	".css":  rules.TypeStylesheet,
	".less": rules.TypeStylesheet,
	// $object
	".jar": rules.TypeObject,
	".swf": rules.TypeObject,
	// $media
	".wav":   rules.TypeMedia,
	".mp3":   rules.TypeMedia,
	".mp4":   rules.TypeMedia,
	".avi":   rules.TypeMedia,
	".flv":   rules.TypeMedia,
	".m3u":   rules.TypeMedia,
	".webm":  rules.TypeMedia,
	".mpeg":  rules.TypeMedia,
	".3gp":   rules.TypeMedia,
	".3g2":   rules.TypeMedia,
	".3gpp":  rules.TypeMedia,
	".3gpp2": rules.TypeMedia,
	".ogg":   rules.TypeMedia,
	".mov":   rules.TypeMedia,
	".qt":    rules.TypeMedia,
	".vbm":   rules.TypeMedia,
	".mkv":   rules.TypeMedia,
	".gifv":  rules.TypeMedia,
	// $font
	".ttf":   rules.TypeFont,
	".otf":   rules.TypeFont,
	".woff":  rules.TypeFont,
	".woff2": rules.TypeFont,
	".eot":   rules.TypeFont,
	// $xmlhttprequest
	".json": rules.TypeXmlhttprequest,
}

// assumeRequestTypeFromURL guesses the request type from the file extension.
func assumeRequestTypeFromURL(u *url.URL) (t rules.RequestType) {
	ext := strings.ToLower(path.Ext(u.Path))

	t, ok := fileExtensions[ext]
	if !ok {
		return rules.TypeOther
	}

	return t
}
