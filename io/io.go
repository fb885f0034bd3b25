// Package io implements the line-oriented read side of the SMTP wire
// protocol: strict CRLF command lines, dot-unstuffed DATA lines, and the
// mid-stream swap onto a TLS-wrapped connection that STARTTLS requires.
package io

import (
	"bufio"
	"errors"
	"net"
)

var (
	ErrLineTooLong    = errors.New("starling/io: line too long")
	ErrBadLineEnding  = errors.New("starling/io: line not terminated by CRLF")
	Err8BitIn7BitMode = errors.New("starling/io: 8-bit data in 7BIT mode")
	// ErrDirtyUpgrade is returned by UpgradeTLS when bytes pipelined past the
	// STARTTLS command's CRLF remain in the read buffer. Letting them survive
	// the handshake would hand the session attacker-controlled plaintext
	// masquerading as post-TLS data, so the upgrade refuses instead.
	ErrDirtyUpgrade = errors.New("starling/io: buffered plaintext bytes before TLS handshake")
)

// DataEndSentinel is returned by ReadDataLine for the end-of-DATA marker: a
// line that was, before dot-unstuffing, exactly ".".
const DataEndSentinel = "\x00starling-data-end\x00"

// LineReader reads CRLF-delimited command lines and, during the DATA phase,
// dot-unstuffed body lines, off a re-pluggable underlying connection.
type LineReader struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
}

// New wraps conn for line-oriented reads and buffered writes.
func New(conn net.Conn) *LineReader {
	return &LineReader{conn: conn, br: bufio.NewReader(conn), bw: bufio.NewWriter(conn)}
}

// Writer returns the buffered writer replies are serialized to.
func (l *LineReader) Writer() *bufio.Writer { return l.bw }

// Conn returns the current underlying connection (post-upgrade if applicable).
func (l *LineReader) Conn() net.Conn { return l.conn }

// ReadLine reads a single command line with strict CRLF and optional 7-bit
// enforcement, enforcing a maximum length of max bytes including the CRLF.
func (l *LineReader) ReadLine(enforceASCII bool, max int) (string, error) {
	return readLine(l.br, max, enforceASCII)
}

// ReadDataLine reads one DATA-phase line: it tolerates a bare LF terminator
// (a common client bug), strips one leading dot (dot-unstuffing), and
// returns DataEndSentinel when the unstuffed line is the end-of-data marker.
func (l *LineReader) ReadDataLine(max int) (string, error) {
	raw, err := l.br.ReadString('\n')
	if err != nil && raw == "" {
		return "", err
	}
	if len(raw) > max {
		return "", ErrLineTooLong
	}
	if n := len(raw); n > 0 && raw[n-1] == '\n' {
		raw = raw[:n-1]
		if n := len(raw); n > 0 && raw[n-1] == '\r' {
			raw = raw[:n-1]
		}
	}
	if raw == "." {
		return DataEndSentinel, nil
	}
	if len(raw) > 0 && raw[0] == '.' {
		raw = raw[1:]
	}
	return raw, nil
}

// UpgradeTLS swaps the underlying connection for the one wrap returns,
// rebuilding the buffered reader/writer. See ErrDirtyUpgrade for why
// already-buffered plaintext bytes abort the upgrade.
func (l *LineReader) UpgradeTLS(wrap func(net.Conn) (net.Conn, error)) error {
	if l.br.Buffered() > 0 {
		return ErrDirtyUpgrade
	}
	wrapped, err := wrap(l.conn)
	if err != nil {
		return err
	}
	l.conn = wrapped
	l.br = bufio.NewReader(wrapped)
	l.bw = bufio.NewWriter(wrapped)
	return nil
}

func readLine(reader *bufio.Reader, max int, enforce bool) (string, error) {
	// FAST PATH: Try to read the full line in one go (zero-copy view).
	line, err := reader.ReadSlice('\n')
	if err == nil {
		if !isASCII(line) && enforce {
			return "", ErrLineTooLong
		}
		return validateAndConvert(line, max)
	}

	// If it's not ErrBufferFull, it's a read error (EOF, etc).
	if err != bufio.ErrBufferFull {
		return "", err
	}

	// SLOW PATH: The line is larger than the bufio buffer.
	// We must accumulate chunks.
	var buf []byte

	// Copy the first chunk immediately because the next ReadSlice will overwrite it.
	// We can validate this chunk immediately to fail early.
	if !isASCII(line) && enforce {
		return "", Err8BitIn7BitMode
	}
	buf = append(buf, line...)

	for {
		// Read the next chunk
		line, err = reader.ReadSlice('\n')

		if len(buf)+len(line) > max {
			// Drain the rest of the line so the next read starts fresh
			drainLine(reader)
			return "", ErrLineTooLong
		}

		if !isASCII(line) && enforce {
			return "", Err8BitIn7BitMode
		}

		buf = append(buf, line...)

		if err == nil {
			break
		}

		if err != bufio.ErrBufferFull {
			return "", err
		}
	}

	return validateAndConvert(buf, max)
}

// validateAndConvert checks length, CRLF, and converts to string.
func validateAndConvert(b []byte, max int) (string, error) {
	if len(b) > max {
		// No need to drain here; if we have the whole line in 'b',
		// we have already read it from the wire.
		return "", ErrLineTooLong
	}

	// Check CRLF (Strict SMTP requirement)
	// We know b ends in '\n' because ReadSlice returned nil error.
	if len(b) < 2 || b[len(b)-2] != '\r' {
		return "", ErrBadLineEnding
	}

	return string(b[:len(b)-2]), nil
}

// isASCII checks if the byte array contains any octet is not US-ASCII
func isASCII(b []byte) bool {
	for _, c := range b {
		if c > 127 {
			return false
		}
	}
	return true
}

// drainLine discards the rest of the current line to recover protocol synchronization.
func drainLine(reader *bufio.Reader) {
	for {
		_, err := reader.ReadSlice('\n')
		if err == nil {
			return // Found the newline
		}
		if err != bufio.ErrBufferFull {
			return // EOF or other error, stop draining
		}
	}
}
