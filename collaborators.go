package starling

import (
	"io"
	"net"
)

// MessageHandler receives the envelope and body of a single transaction.
// A fresh MessageHandler is obtained from the MessageHandlerFactory at MAIL
// time and released at the end of the transaction (successful DATA, RSET,
// QUIT, or connection loss).
type MessageHandler interface {
	// From is invoked once the reverse-path has been parsed. Returning an
	// error fails the MAIL command; a *CodedError controls the reply.
	From(reversePath Path) error
	// Recipient is invoked once per RCPT command. Returning an error fails
	// that recipient only; a *CodedError controls the reply (default 550).
	Recipient(forwardPath Path) error
	// Data is invoked once at the start of DATA with a reader that yields
	// the dot-unstuffed message body, terminator removed. The handler must
	// not assume the full message is buffered; it may stream-read r.
	// Returning an error fails the transaction (default 554).
	Data(r io.Reader) error
	// Done is invoked once the DATA terminator has been read and Data has
	// returned. Returning an error rejects the whole message; a
	// *CodedError controls the reply (default 554).
	Done() error
	// Aborted is invoked instead of Done when the transaction is abandoned
	// before completion: RSET, QUIT, or the connection dropping mid-DATA.
	Aborted()
}

// MessageHandlerFactory mints a MessageHandler per transaction.
type MessageHandlerFactory interface {
	Create(session *Session) MessageHandler
}

// AuthOutcome is the result of one step of an AuthHandler dialogue.
type AuthOutcome int

const (
	AuthContinue AuthOutcome = iota
	AuthSuccess
	AuthFailure
)

// AuthHandler drives one AUTH dialogue's credential verification.
type AuthHandler interface {
	// Auth is called with the decoded client input for PLAIN/LOGIN, or the
	// raw Credentials extracted by the CRAM-MD5 mechanism (username + hex
	// digest) for CRAM-MD5; identity is set on AuthSuccess.
	Auth(mechanism string, creds ClientCredentials) (outcome AuthOutcome, challenge string, identity string)
}

// ClientCredentials is what the wire-level SASL mechanism extracted before
// handing off to the AuthHandler for verification.
type ClientCredentials struct {
	AuthorizationID  string
	AuthenticationID string
	Password         string // plaintext for PLAIN/LOGIN, hex HMAC digest for CRAM-MD5
	Challenge        string // the server challenge, set only for CRAM-MD5
}

// AuthenticationHandlerFactory advertises supported SASL mechanisms and
// mints a fresh AuthHandler per AUTH attempt.
type AuthenticationHandlerFactory interface {
	Mechanisms() []string
	Create() AuthHandler
}

// TLSSocketWrapper upgrades a plaintext connection to TLS in response to
// STARTTLS. A non-nil error aborts the connection.
type TLSSocketWrapper func(conn net.Conn) (net.Conn, error)

// SessionIDFactory mints an opaque, unique-per-connection session id.
type SessionIDFactory interface {
	Next() string
}

// RemoteHostResolver resolves a peer address to a display hostname for
// logging and Received-header population. It is advisory only: the core
// never blocks a protocol decision on its result, and "" is a valid answer
// meaning "unknown".
type RemoteHostResolver interface {
	Resolve(addr net.Addr) string
}

// SummarySink receives a SessionSummary once per connection close. It is
// optional telemetry, not a spec-mandated extension point; see SessionSummary.
type SummarySink interface {
	Accept(SessionSummary)
}
