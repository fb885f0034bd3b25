package starling

import (
	"fmt"
	"io"
	"time"

	sio "github.com/svalinn-smtp/starling/io"
)

// handleData drives the DATA phase: it announces readiness, streams
// dot-unstuffed body lines to the active MessageHandler as they arrive off
// the wire, and maps the handler's verdict to a final reply. The second
// return value reports whether the connection is no longer usable and
// should be closed, which happens only when the wire itself fails.
//
// Enforcing the advertised SIZE against actual bytes read is explicitly out
// of scope; DeclaredSize is passed through to the handler for it to act on
// if it chooses.
func (s *Server) handleData(sess *Session, lr *sio.LineReader) (Reply, bool) {
	if sess.Envelope == nil {
		return replyBadSequence("Need MAIL before DATA"), false
	}
	if len(sess.Envelope.Recipients) == 0 {
		return replyBadSequence("Need RCPT before DATA"), false
	}

	if err := replyStartMailInput().WriteTo(lr.Writer()); err != nil {
		return Reply{}, true
	}

	pr, pw := io.Pipe()

	var handlerErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		if sess.messageHandler != nil {
			handlerErr = sess.messageHandler.Data(pr)
			io.Copy(io.Discard, pr) // drain if the handler returned early
		} else {
			io.Copy(io.Discard, pr)
		}
	}()

	if s.opts.InsertReceivedHeaders {
		header := buildReceivedHeader(s, sess)
		if _, err := pw.Write([]byte(header + "\r\n")); err != nil {
			pw.CloseWithError(err)
			<-done
			sess.resetTransaction()
			return Reply{}, true
		}
	}

	var received int64
	var readErr error

dataLoop:
	for {
		line, err := lr.ReadDataLine(s.opts.MaxLineLength)
		if err != nil {
			readErr = err
			break
		}
		if line == sio.DataEndSentinel {
			break dataLoop
		}

		received += int64(len(line)) + 2
		if _, werr := pw.Write([]byte(line + "\r\n")); werr != nil {
			readErr = werr
			break
		}
	}

	if readErr != nil {
		pw.CloseWithError(readErr)
		<-done
		sess.resetTransaction()
		if readErr == sio.ErrBadLineEnding {
			return replySyntaxError("Message must use CRLF line endings"), false
		}
		if readErr == sio.ErrLineTooLong {
			return replySyntaxError("Line length exceeds maximum allowed"), false
		}
		return Reply{}, true
	}

	pw.Close()
	<-done

	if handlerErr != nil {
		sess.resetTransaction()
		return replyFromHandlerErr(handlerErr, CodeTransactionFailed, "5.0.0"), false
	}

	if sess.messageHandler != nil {
		if err := sess.messageHandler.Done(); err != nil {
			sess.resetTransaction()
			return replyFromHandlerErr(err, CodeTransactionFailed, "5.0.0"), false
		}
	}

	recipients := len(sess.Envelope.Recipients)
	sess.lastRecipients = recipients
	sess.bytesReceived = received
	sess.Envelope = nil
	sess.messageHandler = nil

	s.logger.Info("message accepted",
		"session_id", sess.ID,
		"recipients", recipients,
		"bytes", received,
	)

	return replyf(CodeOK, ESCMessageAccepted, "Message accepted"), false
}

// receivedHeaderProtocol computes the RFC 3848 protocol token: ESMTP, plus
// S once TLS is active, plus A once the session has authenticated.
func receivedHeaderProtocol(sess *Session) string {
	protocol := "ESMTP"
	if sess.TLSActive {
		protocol += "S"
	}
	if sess.IsAuthenticated() {
		protocol += "A"
	}
	return protocol
}

// buildReceivedHeader constructs the trace header spec.md section 4.6
// describes, using the envelope's first recipient for the "for" clause.
func buildReceivedHeader(s *Server, sess *Session) string {
	heloHost := sess.HeloHost
	if heloHost == "" {
		heloHost = "unknown"
	}

	remoteIP := ""
	if sess.RemoteAddress != nil {
		remoteIP = sess.RemoteAddress.String()
	}

	forRecipient := ""
	if sess.Envelope != nil && len(sess.Envelope.Recipients) > 0 {
		forRecipient = sess.Envelope.Recipients[0].String()
	}

	return fmt.Sprintf(
		"Received: from %s (%s [%s])\r\n"+
			"\tby %s (%s) with %s id %s\r\n"+
			"\tfor %s; %s",
		heloHost, sess.RemoteHost, remoteIP,
		s.opts.HostName, s.opts.SoftwareName, receivedHeaderProtocol(sess), sess.ID,
		forRecipient, time.Now().Format(time.RFC1123Z),
	)
}
