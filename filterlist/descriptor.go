package filterlist

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// Descriptor URL parts.
const (
	descriptorScheme = "abp"
	descriptorPath   = "subscribe"
)

// Query parameter names of a descriptor URL.
const (
	paramLocation         = "location"
	paramTitle            = "title"
	paramRequiresLocation = "requiresLocation"
	paramRequiresTitle    = "requiresTitle"
	paramEnabled          = "enabled"
	paramLastUpdate       = "lastUpdate"
)

// lastUpdateLayoutLocal is the ISO-8601 date-time layout without a zone,
// which is accepted in addition to RFC 3339.
const lastUpdateLayoutLocal = "2006-01-02T15:04:05"

// ErrNotDescriptor is returned by [ParseDescriptor] when the URL is not an
// "abp:subscribe" URL.
const ErrNotDescriptor errors.Error = "not an abp:subscribe url"

// Descriptor is the serialized identity of a subscription: an
// "abp:subscribe?location=...&title=..." URL.
type Descriptor struct {
	// LastUpdate is the time of the last successful update.  Zero means
	// that the subscription has never been updated.
	LastUpdate time.Time

	// Location is the URL the rules are fetched from.  "file:" locations are
	// read from the disk.
	Location string

	// Title is the human-readable name of the subscription.
	Title string

	// RequiresLocation is the location of the subscription this one depends
	// on.  It is only meaningful together with RequiresTitle.
	RequiresLocation string

	// RequiresTitle is the title of the subscription this one depends on.
	RequiresTitle string

	// Disabled is true if the subscription doesn't take part in filtering.
	Disabled bool
}

// ParseDescriptor parses an "abp:subscribe" URL.
func ParseDescriptor(s string) (d *Descriptor, err error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parsing descriptor: %w", err)
	}

	path := u.Opaque
	if path == "" {
		path = u.Path
	}

	if u.Scheme != descriptorScheme || path != descriptorPath {
		return nil, fmt.Errorf("%q: %w", s, ErrNotDescriptor)
	}

	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("parsing descriptor query: %w", err)
	}

	d = &Descriptor{
		Location:         q.Get(paramLocation),
		Title:            q.Get(paramTitle),
		RequiresLocation: q.Get(paramRequiresLocation),
		RequiresTitle:    q.Get(paramRequiresTitle),
		Disabled:         q.Get(paramEnabled) == "false",
	}

	if d.RequiresLocation == "" || d.RequiresTitle == "" {
		d.RequiresLocation, d.RequiresTitle = "", ""
	}

	d.LastUpdate = parseLastUpdate(q.Get(paramLastUpdate))

	return d, nil
}

// parseLastUpdate returns the zero time if s is empty or invalid.
func parseLastUpdate(s string) (t time.Time) {
	if s == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t
	}

	t, err = time.ParseInLocation(lastUpdateLayoutLocal, s, time.Local)
	if err != nil {
		return time.Time{}
	}

	return t
}

// HasRequirement returns true if the descriptor names a subscription it
// depends on.
func (d *Descriptor) HasRequirement() (ok bool) {
	return d.RequiresLocation != "" && d.RequiresTitle != ""
}

// String implements the [fmt.Stringer] interface for *Descriptor.  The
// parameters are always written in the same order, so that the result is
// stable across saves.
func (d *Descriptor) String() (s string) {
	b := &strings.Builder{}
	b.WriteString(descriptorScheme + ":" + descriptorPath + "?")

	writeParam(b, paramLocation, d.Location, false)
	writeParam(b, paramTitle, d.Title, true)

	if d.HasRequirement() {
		writeParam(b, paramRequiresLocation, d.RequiresLocation, true)
		writeParam(b, paramRequiresTitle, d.RequiresTitle, true)
	}

	if d.Disabled {
		writeParam(b, paramEnabled, "false", true)
	}

	if !d.LastUpdate.IsZero() {
		writeParam(b, paramLastUpdate, d.LastUpdate.Format(time.RFC3339), true)
	}

	return b.String()
}

// writeParam writes a query parameter with an escaped value.
func writeParam(b *strings.Builder, name, value string, sep bool) {
	if sep {
		b.WriteByte('&')
	}

	b.WriteString(name)
	b.WriteByte('=')
	b.WriteString(url.QueryEscape(value))
}

// LocationPrefix returns the beginning of the descriptor URL of a
// subscription with the given location and title.  Any descriptor that
// starts with it describes the same subscription.
func LocationPrefix(location, title string) (prefix string) {
	d := &Descriptor{Location: location, Title: title}

	return d.String()
}
