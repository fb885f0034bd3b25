package starling

import "errors"

var (
	// ErrServerClosed is returned by ListenAndServe/Serve after Shutdown or Close.
	ErrServerClosed = errors.New("starling: server closed")
	// ErrAlreadyStarted is returned by Start/Serve on a server that is already running.
	ErrAlreadyStarted = errors.New("starling: server already started")
	// ErrNotStarted is returned by Shutdown/Close on a server that was never started.
	ErrNotStarted = errors.New("starling: server not started")

	ErrLineTooLong    = errors.New("starling: line too long")
	ErrBadLineEnding  = errors.New("starling: line not terminated by CRLF")
	Err8BitIn7BitMode = errors.New("starling: 8-bit data in 7BIT mode")
	ErrTimeout        = errors.New("starling: read timeout")
	ErrTLSRequired    = errors.New("starling: TLS required")
	ErrAuthRequired   = errors.New("starling: authentication required")
	ErrLoopDetected   = errors.New("starling: command loop could not make progress")
)

// CodedError lets a collaborator (message handler, auth handler) carry an
// explicit SMTP reply back to the core instead of taking a default mapping.
type CodedError struct {
	Code         SMTPCode
	EnhancedCode EnhancedCode
	Message      string
}

func (e *CodedError) Error() string {
	return e.Message
}

// AsReply converts a CodedError to a Reply for transmission.
func (e *CodedError) AsReply() Reply {
	return Reply{Code: e.Code, EnhancedCode: e.EnhancedCode, Lines: []string{e.Message}}
}
