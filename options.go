package sfstreaming

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultVersion is the Salesforce API version used until one is
	// configured or discovered
	DefaultVersion = "42.0"

	// DefaultTimeout bounds every request until the server advises another
	// long-poll timeout
	DefaultTimeout = 120 * time.Second
)

// Options holds the settings of a BayeuxClient
type Options struct {
	Logger    Logger
	Client    *http.Client
	Transport http.RoundTripper
	Version   string
	Timeout   time.Duration
}

// Option configures a BayeuxClient
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Logger:  newNullLogger(),
		Version: DefaultVersion,
		Timeout: DefaultTimeout,
	}
}

// WithLogger logs through the given logrus logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(options *Options) {
		options.Logger = &wrappedFieldLogger{logger}
	}
}

// WithSlogLogger logs through the given slog logger
func WithSlogLogger(logger *slog.Logger) Option {
	return func(options *Options) {
		options.Logger = &wrappedSlog{logger}
	}
}

// WithHTTPClient sets the http.Client used for every request to the
// instance. Its Transport is replaced by the authenticating transport.
func WithHTTPClient(client *http.Client) Option {
	return func(options *Options) {
		options.Client = client
	}
}

// WithHTTPTransport sets the RoundTripper used underneath the authenticating
// transport
func WithHTTPTransport(transport http.RoundTripper) Option {
	return func(options *Options) {
		options.Transport = transport
	}
}

// WithVersion sets the Salesforce API version, for example "42.0"
func WithVersion(version string) Option {
	return func(options *Options) {
		options.Version = version
	}
}

// WithTimeout sets the initial response timeout
func WithTimeout(timeout time.Duration) Option {
	return func(options *Options) {
		options.Timeout = timeout
	}
}
