package filterlist

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Fetcher downloads the text of a filter list.
type Fetcher interface {
	// Fetch returns the body of the list at location.
	Fetch(ctx context.Context, location string) (body []byte, err error)
}

// Default values for [HTTPFetcherConfig].
const (
	DefaultFetchTimeout = 60 * time.Second
	DefaultMaxListSize  = 64 * 1024 * 1024
	DefaultUserAgent    = "abpfilter/1.0"
)

// HTTPFetcherConfig is the configuration structure for an [HTTPFetcher].
type HTTPFetcherConfig struct {
	// Logger is used for logging the requests.  If nil, a discard logger is
	// used.
	Logger *slog.Logger

	// Client is the HTTP client.  If nil, a client with [DefaultFetchTimeout]
	// is used.
	Client *http.Client

	// UserAgent is the value of the User-Agent header.
	UserAgent string

	// MaxSize is the maximum size of a list in bytes.  Larger lists are
	// rejected.
	MaxSize uint64
}

// HTTPFetcher is a [Fetcher] that downloads lists over HTTP.  It makes exactly
// one request per call.
type HTTPFetcher struct {
	logger    *slog.Logger
	client    *http.Client
	userAgent string
	maxSize   uint64
}

// type check
var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher returns a new properly initialized *HTTPFetcher.  conf may
// be nil.
func NewHTTPFetcher(conf *HTTPFetcherConfig) (f *HTTPFetcher) {
	if conf == nil {
		conf = &HTTPFetcherConfig{}
	}

	f = &HTTPFetcher{
		logger:    conf.Logger,
		client:    conf.Client,
		userAgent: conf.UserAgent,
		maxSize:   conf.MaxSize,
	}

	if f.logger == nil {
		f.logger = slogutil.NewDiscardLogger()
	}

	if f.client == nil {
		f.client = &http.Client{
			Timeout: DefaultFetchTimeout,
		}
	}

	if f.userAgent == "" {
		f.userAgent = DefaultUserAgent
	}

	if f.maxSize == 0 {
		f.maxSize = DefaultMaxListSize
	}

	return f
}

// Fetch implements the [Fetcher] interface for *HTTPFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, location string) (body []byte, err error) {
	f.logger.DebugContext(ctx, "fetching", "location", location)

	body, err = f.fetch(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", location, err)
	}

	return body, nil
}

// fetch sends the request and reads the body.
func (f *HTTPFetcher) fetch(ctx context.Context, location string) (body []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set(httphdr.UserAgent, f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	// The limited reader fails once the limit is reached, so allow one more
	// byte to accept a list of exactly maxSize bytes.
	body, err = io.ReadAll(ioutil.LimitReader(resp.Body, f.maxSize+1))
	limErr := &ioutil.LimitError{}
	if errors.As(err, &limErr) {
		return nil, fmt.Errorf("list is larger than %d bytes: %w", f.maxSize, err)
	} else if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	return body, nil
}
