package starling

import (
	"net"
	"time"
)

// Envelope accumulates the reverse-path and forward-paths of one mail
// transaction, from a successful MAIL command to either the end of DATA or
// an RSET/QUIT/disconnect.
type Envelope struct {
	From         Path
	Recipients   []Path
	DeclaredSize int64 // 0 when the client did not send SIZE=
	Body8Bit     bool  // true when BODY=8BITMIME was declared
}

// Session is the per-connection state described by spec.md section 3. It
// lives from accept to close and is owned by exactly one goroutine - the
// connection loop - so it needs no internal locking.
type Session struct {
	ID            string
	RemoteAddress net.Addr
	RemoteHost    string // peer's canonical name; "" if unknown

	HeloHost   string // last EHLO/HELO argument; "" until set
	IsExtended bool   // true once the client has used EHLO

	TLSActive bool

	AuthSubject string // "" when unauthenticated
	authed      bool

	Envelope *Envelope // nil except mid-transaction

	messageHandler MessageHandler

	QuitSent bool

	connectedAt      time.Time
	consecutiveFails int

	lastRecipients int
	bytesReceived  int64
}

// IsAuthenticated reports whether a SASL exchange has succeeded on this session.
func (s *Session) IsAuthenticated() bool { return s.authed }

func (s *Session) setAuthenticated(identity string) {
	s.AuthSubject = identity
	s.authed = true
}

// resetTransaction clears the envelope and releases the message handler,
// invoking its Aborted hook if one was outstanding. Used by RSET, by the
// failure paths of MAIL/RCPT/DATA, and by connection teardown.
func (s *Session) resetTransaction() {
	if s.messageHandler != nil {
		s.messageHandler.Aborted()
	}
	s.Envelope = nil
	s.messageHandler = nil
}

// resetAfterSTARTTLS clears the fields spec.md invariant 6 requires cleared
// once a STARTTLS handshake succeeds, forcing the client to re-identify
// itself with a fresh EHLO/HELO.
func (s *Session) resetAfterSTARTTLS() {
	s.HeloHost = ""
	s.IsExtended = false
	s.AuthSubject = ""
	s.authed = false
	s.resetTransaction()
	s.TLSActive = true
}
