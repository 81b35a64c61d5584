// Command abpfilter runs a filtering MITM proxy using Adblock Plus
// subscriptions.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/AdguardTeam/abpfilter"
	"github.com/AdguardTeam/abpfilter/filterlist"
	"github.com/AdguardTeam/abpfilter/proxy"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/gomitmproxy"
	"github.com/AdguardTeam/gomitmproxy/mitm"
	goFlags "github.com/jessevdk/go-flags"
)

// Options are the command-line options.
type Options struct {
	// Verbose enables debug-level logging.
	Verbose bool `short:"v" long:"verbose" description:"Verbose output (optional)." optional:"yes" optional-value:"true"`

	// LogOutput is the path to the log file.
	LogOutput string `short:"o" long:"output" description:"Path to the log file. If not set, it writes to stderr." default:""`

	// ListenAddr is the server listen address.
	ListenAddr string `short:"l" long:"listen" description:"Listen address." default:"0.0.0.0"`

	// ListenPort is the server listen port.
	ListenPort int `short:"p" long:"port" description:"Listen port." default:"8080"`

	// TLSCertPath is the path to the root certificate.
	TLSCertPath string `short:"c" long:"ca-cert" description:"Path to a file with the root certificate." required:"true"`

	// TLSKeyPath is the path to the private key of the root certificate.
	TLSKeyPath string `short:"k" long:"ca-key" description:"Path to a file with the CA private key." required:"true"`

	// SettingsPath is the path to the settings file.
	SettingsPath string `short:"s" long:"settings" description:"Path to the YAML settings file." default:"abpfilter.yaml"`

	// DataDir is the directory with the subscription files.
	DataDir string `short:"d" long:"data-dir" description:"Directory for the subscription files." default:"data"`

	// Subscriptions are the locations of the subscriptions to add.
	Subscriptions []string `short:"f" long:"filter" description:"Location of a subscription to add. Can be specified multiple times."`

	// Exceptions are the hosts that are never filtered.
	Exceptions []string `short:"x" long:"except" description:"Host that is never filtered. Can be specified multiple times."`

	// ProxyUser is the proxy username.
	ProxyUser string `short:"u" long:"username" description:"Proxy auth username. If specified, proxy authorization is required."`

	// ProxyPassword is the proxy password.
	ProxyPassword string `short:"a" long:"password" description:"Proxy auth password. If specified, proxy authorization is required."`

	// HTTPSProxy makes the proxy accept HTTPS connections.
	HTTPSProxy bool `short:"t" long:"https" description:"Run an HTTPS proxy (otherwise, it runs plain HTTP proxy)." optional:"yes" optional-value:"true"`

	// HTTPSHostname is the server name of the HTTPS proxy.
	HTTPSHostname string `short:"n" long:"https-name" description:"Server name or IP address of the HTTPS proxy."`
}

func main() {
	var options Options
	parser := goFlags.NewParser(&options, goFlags.Default)

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*goFlags.Error); ok && flagsErr.Type == goFlags.ErrHelp {
			os.Exit(0)
		}

		os.Exit(1)
	}

	err = run(&options)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "abpfilter: %s\n", err)

		os.Exit(1)
	}
}

// run starts the proxy and waits for a termination signal.
func run(options *Options) (err error) {
	var output io.Writer = os.Stderr
	if options.LogOutput != "" {
		// #nosec G302 -- The log file is meant to be readable.
		file, fileErr := os.OpenFile(options.LogOutput, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if fileErr != nil {
			return fmt.Errorf("creating log file: %w", fileErr)
		}
		defer func() { err = errors.WithDeferred(err, file.Close()) }()

		output = file
	}

	lvl := slog.LevelInfo
	if options.Verbose {
		lvl = slog.LevelDebug
	}

	logger := slogutil.New(&slogutil.Config{
		Output:       output,
		Format:       slogutil.FormatDefault,
		AddTimestamp: true,
		Level:        lvl,
	})

	ctx := context.Background()

	m, err := newManager(ctx, logger, options)
	if err != nil {
		return err
	}

	conf, err := newServerConfig(logger, options, m)
	if err != nil {
		return errors.WithDeferred(err, m.Close(ctx))
	}

	server, err := proxy.NewServer(conf)
	if err != nil {
		return errors.WithDeferred(fmt.Errorf("creating proxy: %w", err), m.Close(ctx))
	}

	logger.Info("starting proxy")

	err = server.Start()
	if err != nil {
		return errors.WithDeferred(fmt.Errorf("starting proxy: %w", err), m.Close(ctx))
	}

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChannel

	logger.Info("shutting down", "signal", sig)

	server.Close()

	return m.Close(ctx)
}

// newManager creates and loads the filter manager and applies the
// subscriptions and exceptions from the command line.
func newManager(
	ctx context.Context,
	logger *slog.Logger,
	options *Options,
) (m *abpfilter.Manager, err error) {
	dataDir, err := filepath.Abs(options.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	m = abpfilter.NewManager(&abpfilter.Config{
		Logger:   logger.With(slogutil.KeyPrefix, "manager"),
		Settings: abpfilter.NewFileSettingsStore(options.SettingsPath),
		Fetcher: filterlist.NewHTTPFetcher(&filterlist.HTTPFetcherConfig{
			Logger: logger.With(slogutil.KeyPrefix, "fetcher"),
		}),
		CacheDir: dataDir,
	})

	err = m.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading filters: %w", err)
	}

	for _, loc := range options.Subscriptions {
		_, err = m.AddSubscription(ctx, &filterlist.Descriptor{
			Location: loc,
			Title:    loc,
		})
		if err != nil {
			logger.Error("adding subscription", "location", loc, slogutil.KeyError, err)
		}
	}

	for _, host := range options.Exceptions {
		m.AddException(host)
	}

	return m, nil
}

// newServerConfig returns the configuration of the proxy server.
func newServerConfig(
	logger *slog.Logger,
	options *Options,
	m *abpfilter.Manager,
) (conf *proxy.Config, err error) {
	listenIP, err := netip.ParseAddr(options.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen address: %w", err)
	}

	mitmConfig, err := newMITMConfig(options)
	if err != nil {
		return nil, err
	}

	var tlsConfig *tls.Config
	if options.HTTPSProxy {
		if options.HTTPSHostname == "" {
			return nil, errors.Error("https hostname must be specified")
		}

		proxyCert, certErr := mitmConfig.GetOrCreateCert(options.HTTPSHostname)
		if certErr != nil {
			return nil, fmt.Errorf("generating proxy certificate for %q: %w", options.HTTPSHostname, certErr)
		}

		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{*proxyCert},
			ServerName:   options.HTTPSHostname,
		}
	}

	return &proxy.Config{
		Logger:  logger.With(slogutil.KeyPrefix, "proxy"),
		Manager: m,
		ProxyConfig: gomitmproxy.Config{
			ListenAddr: net.TCPAddrFromAddrPort(netip.AddrPortFrom(listenIP, uint16(options.ListenPort))),
			TLSConfig:  tlsConfig,

			Username: options.ProxyUser,
			Password: options.ProxyPassword,
			APIHost:  "abpfilter",

			MITMConfig: mitmConfig,
		},
	}, nil
}

// newMITMConfig loads the root certificate and creates the MITM
// configuration.
func newMITMConfig(options *Options) (mitmConfig *mitm.Config, err error) {
	tlsCert, err := tls.LoadX509KeyPair(options.TLSCertPath, options.TLSKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading root ca: %w", err)
	}

	privateKey, ok := tlsCert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("root ca key: unsupported type %T", tlsCert.PrivateKey)
	}

	x509c, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parsing root ca: %w", err)
	}

	mitmConfig, err = mitm.NewConfig(x509c, privateKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating mitm config: %w", err)
	}

	mitmConfig.SetValidity(7 * 24 * time.Hour)
	mitmConfig.SetOrganization("abpfilter")

	return mitmConfig, nil
}
