package starling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	sio "github.com/svalinn-smtp/starling/io"
)

// Server is an assembled, immutable SMTP server. Obtain one via
// ServerBuilder.Build; it accepts exactly one Serve/ListenAndServe call.
type Server struct {
	opts ServerOptions
	logger *slog.Logger

	messageFactory MessageHandlerFactory
	authFactory    AuthenticationHandlerFactory
	tlsWrapper     TLSSocketWrapper
	sessionIDs     SessionIDFactory
	hostResolver   RemoteHostResolver
	summarySink    SummarySink
	rateLimiter    *ConnectionRateLimiter
	ipFilter       *IPFilter

	mu       sync.Mutex
	listener net.Listener
	started  bool
	closed   bool

	connCount  atomic.Int64
	activeConn sync.Map // net.Conn -> *sio.LineReader, for shutdown broadcast

	shutdownWg sync.WaitGroup
}

// ListenAndServe listens on the configured BindAddress/Port and serves
// until Shutdown, Close, or a fatal accept error.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.opts.BindAddress, s.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("starling: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is closed, dispatching
// each to its own goroutine. It returns ErrServerClosed once Shutdown or
// Close has run.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("starling server listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("hostname", s.opts.HostName),
	)

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return ErrServerClosed
			}
			s.logger.Error("accept error", slog.Any("error", err))
			continue
		}

		if s.ipFilter != nil && !s.ipFilter.IsAllowed(extractIP(conn.RemoteAddr())) {
			conn.Close()
			continue
		}
		if s.rateLimiter != nil && !s.rateLimiter.Allow(extractIP(conn.RemoteAddr())) {
			s.rejectOverCapacity(conn)
			continue
		}
		if s.opts.MaxConnections > 0 && s.connCount.Load() >= int64(s.opts.MaxConnections) {
			s.rejectOverCapacity(conn)
			continue
		}

		s.shutdownWg.Add(1)
		s.connCount.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) rejectOverCapacity(conn net.Conn) {
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	bw := sio.New(conn).Writer()
	replyTooManyConnections(s.opts.HostName).WriteTo(bw)
}

// serveConn owns one accepted connection end to end: greeting, the command
// loop, and teardown/telemetry on exit.
func (s *Server) serveConn(conn net.Conn) {
	defer s.shutdownWg.Done()
	defer s.connCount.Add(-1)
	defer conn.Close()

	sess := &Session{
		ID:            s.sessionIDs.Next(),
		RemoteAddress: conn.RemoteAddr(),
		connectedAt:   time.Now(),
	}
	if s.hostResolver != nil {
		sess.RemoteHost = s.hostResolver.Resolve(conn.RemoteAddr())
	}

	lr := sio.New(conn)
	s.activeConn.Store(conn, lr)
	defer s.activeConn.Delete(conn)

	s.withRecovery(sess.ID, func() {
		s.runSession(sess, lr, conn)
	})

	if sess.messageHandler != nil {
		sess.resetTransaction()
	}

	if s.summarySink != nil {
		s.summarySink.Accept(s.buildSummary(sess))
	}
}

func (s *Server) buildSummary(sess *Session) SessionSummary {
	outcome := "closed"
	if sess.QuitSent {
		outcome = "quit"
	}
	return SessionSummary{
		SessionID:     sess.ID,
		RemoteAddress: sess.RemoteAddress.String(),
		RemoteHost:    sess.RemoteHost,
		HeloHost:      sess.HeloHost,
		IsExtended:    sess.IsExtended,
		TLSActive:     sess.TLSActive,
		Authenticated: sess.IsAuthenticated(),
		AuthSubject:   sess.AuthSubject,
		Recipients:    sess.lastRecipients,
		BytesReceived: sess.bytesReceived,
		ConnectedAt:   sess.connectedAt,
		Duration:      time.Since(sess.connectedAt),
		Outcome:       outcome,
	}
}

// runSession writes the greeting and drives the command loop until QUIT, a
// fatal read error, or a handler requesting connection close.
func (s *Server) runSession(sess *Session, lr *sio.LineReader, conn net.Conn) {
	greeting := replyGreeting(s.opts.HostName, s.opts.SoftwareName)
	if err := greeting.WriteTo(lr.Writer()); err != nil {
		return
	}

	for {
		if s.opts.ConnectionTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.ConnectionTimeout))
		}

		line, err := lr.ReadLine(false, s.opts.MaxLineLength)
		if err != nil {
			s.handleReadError(lr, err)
			return
		}

		start := time.Now()
		reply, shouldClose := s.dispatch(sess, lr, line)
		s.logCommand(sess, line, start, nil)

		if reply.Code != 0 {
			if err := reply.WriteTo(lr.Writer()); err != nil {
				return
			}
		}

		if reply.IsError() {
			sess.consecutiveFails++
			if s.opts.MaxConsecutiveErrors > 0 && sess.consecutiveFails >= s.opts.MaxConsecutiveErrors {
				return
			}
		} else {
			sess.consecutiveFails = 0
		}

		if shouldClose || sess.QuitSent {
			return
		}
	}
}

func (s *Server) handleReadError(lr *sio.LineReader, err error) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		replyTimeout().WriteTo(lr.Writer())
		return
	}
	switch err {
	case sio.ErrLineTooLong, sio.ErrBadLineEnding:
		replySyntaxError(err.Error()).WriteTo(lr.Writer())
	}
}

// Shutdown stops accepting new connections, notifies in-flight clients with
// a 421, and waits for them to finish or for ctx to expire, whichever comes
// first - the bounded grace window spec.md section 3's ShutdownGrace names.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.broadcastShutdown()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.activeConn.Range(func(key, _ any) bool {
			key.(net.Conn).Close()
			return true
		})
		return ctx.Err()
	}
}

// Close immediately tears down the listener and every active connection.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.broadcastShutdown()

	s.activeConn.Range(func(key, _ any) bool {
		key.(net.Conn).Close()
		return true
	})
	return nil
}

func (s *Server) broadcastShutdown() {
	s.activeConn.Range(func(key, value any) bool {
		conn := key.(net.Conn)
		lr := value.(*sio.LineReader)
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		replyf(CodeServiceUnavailable, ESCTempFailure, "%s Service shutting down", s.opts.HostName).WriteTo(lr.Writer())
		return true
	})
}
