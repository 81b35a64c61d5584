// Package proxy implements a MITM proxy that blocks requests with an
// [abpfilter.RequestFilter] and hides page elements with the element hiding
// rules of an [abpfilter.Manager].
package proxy

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AdguardTeam/abpfilter"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/gomitmproxy"
)

// Keys of the gomitmproxy session properties.
const (
	sessionPropKey    = "session"
	requestBlockedKey = "blocked"
)

// ErrNoManager is returned by [NewServer] when the configuration has no
// manager.
const ErrNoManager errors.Error = "no filter manager"

// Config contains the MITM proxy configuration.
type Config struct {
	// Logger is used for logging the operation of the proxy.  If nil, a
	// discard logger is used.
	Logger *slog.Logger

	// Manager provides the subscriptions and the element hiding rules.  It
	// must not be nil.
	Manager *abpfilter.Manager

	// ProxyConfig is the configuration of the MITM proxy.  The request,
	// response, and connect handlers are set by the server.
	ProxyConfig gomitmproxy.Config
}

// String returns the description of the configuration.
func (c *Config) String() (s string) {
	sb := &strings.Builder{}

	if c.ProxyConfig.ListenAddr != nil {
		_, _ = fmt.Fprintf(sb, "Listen addr: %s\n", c.ProxyConfig.ListenAddr)
	}

	_, _ = fmt.Fprintf(sb, "MITM status: %v\n", c.ProxyConfig.MITMConfig != nil)
	_, _ = fmt.Fprintf(sb, "Run as HTTPS proxy: %v\n", c.ProxyConfig.TLSConfig != nil)

	if c.ProxyConfig.Username != "" {
		_, _ = fmt.Fprintf(sb, "Proxy auth: %s\n", c.ProxyConfig.Username)
	}

	if c.ProxyConfig.APIHost != "" {
		_, _ = fmt.Fprintf(sb, "API host: %s\n", c.ProxyConfig.APIHost)
	}

	if c.Manager != nil {
		subs := c.Manager.Subscriptions()
		_, _ = fmt.Fprintf(sb, "Subscriptions: %d\n", len(subs))
		for i, sub := range subs {
			_, _ = fmt.Fprintf(sb, "%d: %s\n", i, sub.Title())
		}
	}

	return sb.String()
}

// Server contains the current server state.
type Server struct {
	logger *slog.Logger

	// proxyServer is the MITM proxy server instance.
	proxyServer *gomitmproxy.Proxy

	manager *abpfilter.Manager
	filter  *abpfilter.RequestFilter

	// createdAt is the time when the server was created.
	createdAt time.Time
}

// NewServer creates a new instance of the MITM server.
func NewServer(conf *Config) (s *Server, err error) {
	if conf.Manager == nil {
		return nil, fmt.Errorf("creating proxy: %w", ErrNoManager)
	}

	logger := conf.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	logger.Info("initializing the proxy server", "config", conf.String())

	s = &Server{
		logger:    logger,
		manager:   conf.Manager,
		filter:    abpfilter.NewRequestFilter(conf.Manager, logger),
		createdAt: time.Now(),
	}

	proxyConf := conf.ProxyConfig
	proxyConf.OnRequest = s.onRequest
	proxyConf.OnResponse = s.onResponse
	s.proxyServer = gomitmproxy.NewProxy(proxyConf)

	return s, nil
}

// Start starts the proxy server.
func (s *Server) Start() (err error) {
	return s.proxyServer.Start()
}

// Close stops the proxy server.
func (s *Server) Close() {
	s.proxyServer.Close()
}
