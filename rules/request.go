package rules

import (
	"strings"

	"github.com/AdguardTeam/abpfilter/internal/ufnet"
)

// maxURLLength limits the URL length by 4 KiB. It appears that there
// can be URLs longer than a megabyte, and it makes no sense to go
// through the whole URL.
const maxURLLength = 4 * 1024

// RequestType is the request types enumeration
type RequestType uint32

const (
	// TypeDocument (main frame)
	TypeDocument RequestType = 1 << iota
	// TypeSubdocument (iframe) $subdocument
	TypeSubdocument
	// TypeScript (javascript, etc)
	TypeScript
	// TypeStylesheet (css)
	TypeStylesheet
	// TypeObject (flash, etc) $object
	TypeObject
	// TypeImage (any image)
	TypeImage
	// TypeXmlhttprequest (ajax/fetch) $xmlhttprequest
	TypeXmlhttprequest
	// TypeMedia (video/music)
	TypeMedia
	// TypeFont (any custom font)
	TypeFont
	// TypeOther - any other request type
	TypeOther
)

// Request represents a web filtering request with all it's necessary
// properties.
type Request struct {
	// URL is the full encoded request URL.
	URL string

	// URLLowerCase is the full request URL in lower case.
	URLLowerCase string

	// Hostname is the lowercased hostname of the request.
	Hostname string

	// Domain is the second-level domain of the request, see
	// [ufnet.SecondLevelDomain].
	Domain string

	// SourceURL is the full URL of the page the request originates from, that
	// is the value of the Referer header.  It is empty when the request has no
	// referrer.
	SourceURL string

	// SourceHostname is the hostname of the source.
	SourceHostname string

	// SourceDomain is the second-level domain of the source.
	SourceDomain string

	// RequestType is the type of the filtering request.
	RequestType RequestType

	// ThirdParty is true if the request has a referrer and the second-level
	// domains of the request and the referrer differ.
	ThirdParty bool
}

// NewRequest creates a new instance of "Request" and populates it's fields
func NewRequest(url, sourceURL string, requestType RequestType) (r *Request) {
	if len(url) > maxURLLength {
		url = url[:maxURLLength]
	}
	if len(sourceURL) > maxURLLength {
		sourceURL = sourceURL[:maxURLLength]
	}

	r = &Request{
		RequestType: requestType,

		URL:          url,
		URLLowerCase: strings.ToLower(url),
		Hostname:     ufnet.ExtractHostname(url),

		SourceURL:      sourceURL,
		SourceHostname: ufnet.ExtractHostname(sourceURL),
	}

	r.Domain = ufnet.SecondLevelDomain(r.Hostname)
	r.SourceDomain = ufnet.SecondLevelDomain(r.SourceHostname)
	r.ThirdParty = r.SourceURL != "" && r.SourceDomain != r.Domain

	return r
}
