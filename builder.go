package starling

import (
	"log/slog"
	"net"
	"strconv"
	"time"
)

// ServerBuilder assembles a ServerOptions and its collaborators through a
// fluent interface, then produces an immutable *Server via Build. No setter
// may be called again once Build has returned.
type ServerBuilder struct {
	opts   ServerOptions
	logger *slog.Logger

	messageFactory MessageHandlerFactory
	authFactory    AuthenticationHandlerFactory
	tlsWrapper     TLSSocketWrapper
	sessionIDs     SessionIDFactory
	hostResolver   RemoteHostResolver
	summarySink    SummarySink
	rateLimiter    *ConnectionRateLimiter
	ipFilter       *IPFilter
}

// New starts a builder for a server identifying itself as hostname in
// greetings, EHLO responses, and Received headers.
func New(hostname string) *ServerBuilder {
	return &ServerBuilder{opts: defaultOptions(hostname)}
}

func (b *ServerBuilder) Addr(addr string) *ServerBuilder {
	host, port := splitHostPort(addr)
	b.opts.BindAddress = host
	if port > 0 {
		b.opts.Port = port
	}
	return b
}

func (b *ServerBuilder) Port(port int) *ServerBuilder {
	b.opts.Port = port
	return b
}

func (b *ServerBuilder) Backlog(n int) *ServerBuilder {
	b.opts.Backlog = n
	return b
}

func (b *ServerBuilder) SoftwareName(name string) *ServerBuilder {
	b.opts.SoftwareName = name
	return b
}

func (b *ServerBuilder) Logger(logger *slog.Logger) *ServerBuilder {
	b.logger = logger
	return b
}

func (b *ServerBuilder) EnableTLS() *ServerBuilder {
	b.opts.EnableTLS = true
	return b
}

func (b *ServerBuilder) HideTLS() *ServerBuilder {
	b.opts.HideTLS = true
	return b
}

func (b *ServerBuilder) RequireTLS() *ServerBuilder {
	b.opts.EnableTLS = true
	b.opts.RequireTLS = true
	return b
}

func (b *ServerBuilder) RequireAuth() *ServerBuilder {
	b.opts.RequireAuth = true
	return b
}

func (b *ServerBuilder) DisableReceivedHeaders() *ServerBuilder {
	b.opts.InsertReceivedHeaders = false
	return b
}

func (b *ServerBuilder) ReadTimeout(d time.Duration) *ServerBuilder {
	b.opts.ConnectionTimeout = d
	return b
}

func (b *ServerBuilder) MaxMessageSize(size int64) *ServerBuilder {
	b.opts.MaxMessageSize = size
	return b
}

func (b *ServerBuilder) MaxRecipients(n int) *ServerBuilder {
	b.opts.MaxRecipients = n
	return b
}

func (b *ServerBuilder) MaxConnections(n int) *ServerBuilder {
	b.opts.MaxConnections = n
	return b
}

func (b *ServerBuilder) MaxLineLength(n int) *ServerBuilder {
	b.opts.MaxLineLength = n
	return b
}

// MaxConsecutiveErrors tears a connection down after n consecutive
// syntax/sequence errors. 0 (the default) disables the limit. See
// SPEC_FULL.md section 11 for why this is carried.
func (b *ServerBuilder) MaxConsecutiveErrors(n int) *ServerBuilder {
	b.opts.MaxConsecutiveErrors = n
	return b
}

func (b *ServerBuilder) ShutdownGrace(d time.Duration) *ServerBuilder {
	b.opts.ShutdownGrace = d
	return b
}

func (b *ServerBuilder) VRFYReply(code SMTPCode) *ServerBuilder {
	b.opts.VRFYCode = code
	return b
}

func (b *ServerBuilder) EXPNReply(code SMTPCode) *ServerBuilder {
	b.opts.EXPNCode = code
	return b
}

func (b *ServerBuilder) WithMessageHandlerFactory(f MessageHandlerFactory) *ServerBuilder {
	b.messageFactory = f
	return b
}

func (b *ServerBuilder) WithAuthFactory(f AuthenticationHandlerFactory) *ServerBuilder {
	b.authFactory = f
	return b
}

func (b *ServerBuilder) WithTLSWrapper(w TLSSocketWrapper) *ServerBuilder {
	b.tlsWrapper = w
	return b
}

func (b *ServerBuilder) WithSessionIDFactory(f SessionIDFactory) *ServerBuilder {
	b.sessionIDs = f
	return b
}

func (b *ServerBuilder) WithRemoteHostResolver(r RemoteHostResolver) *ServerBuilder {
	b.hostResolver = r
	return b
}

func (b *ServerBuilder) WithSummarySink(s SummarySink) *ServerBuilder {
	b.summarySink = s
	return b
}

// WithRateLimiter rejects connections from an IP exceeding its window once
// accepted but before a Session is allocated.
func (b *ServerBuilder) WithRateLimiter(rl *ConnectionRateLimiter) *ServerBuilder {
	b.rateLimiter = rl
	return b
}

// WithIPFilter rejects connections per an allow-list or deny-list.
func (b *ServerBuilder) WithIPFilter(f *IPFilter) *ServerBuilder {
	b.ipFilter = f
	return b
}

// Build validates the accumulated configuration and collaborators and
// returns an unstarted *Server.
func (b *ServerBuilder) Build() (*Server, error) {
	if b.opts.HostName == "" {
		return nil, &CodedError{Message: "starling: hostname is required"}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.sessionIDs == nil {
		b.sessionIDs = NewULIDSessionIDFactory()
	}
	if b.opts.RequireTLS && b.tlsWrapper == nil {
		return nil, &CodedError{Message: "starling: RequireTLS set without a TLS wrapper"}
	}
	if b.opts.EnableTLS && b.tlsWrapper == nil {
		return nil, &CodedError{Message: "starling: EnableTLS set without a TLS wrapper"}
	}

	return &Server{
		opts:           b.opts,
		logger:         b.logger,
		messageFactory: b.messageFactory,
		authFactory:    b.authFactory,
		tlsWrapper:     b.tlsWrapper,
		sessionIDs:     b.sessionIDs,
		hostResolver:   b.hostResolver,
		summarySink:    b.summarySink,
		rateLimiter:    b.rateLimiter,
		ipFilter:       b.ipFilter,
	}, nil
}

func splitHostPort(addr string) (host string, port int) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return h, 0
	}
	return h, n
}
