package sftest

import "time"

// ServerOpts configures a Server
type ServerOpts interface {
	apply(s *Server)
}

type serverOptFn func(s *Server)

func (opt serverOptFn) apply(s *Server) {
	opt(s)
}

// WithVersions sets the API versions listed by /services/data/
func WithVersions(versions ...string) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.versions = versions
	})
}

// WithDiscoveryBody makes /services/data/ answer with body verbatim
func WithDiscoveryBody(body string) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.discoveryBody = body
	})
}

// WithTokenType sets the token_type returned by the token endpoint
func WithTokenType(tokenType string) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.tokenType = tokenType
	})
}

// WithIdlePoll sets how long an unscripted /meta/connect is held before the
// server answers 408
func WithIdlePoll(d time.Duration) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.idlePoll = d
	})
}

// WithHandshakeWithoutClientID makes the handshake response omit clientId
func WithHandshakeWithoutClientID() ServerOpts {
	return serverOptFn(func(s *Server) {
		s.omitClientID = true
	})
}
