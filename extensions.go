package starling

import (
	"strconv"
	"strings"
)

// buildCapabilities returns the EHLO capability lines (without the leading
// hostname line) in the fixed order spec.md section 4.4 mandates:
// 8BITMIME, SIZE, STARTTLS, AUTH, PIPELINING, ENHANCEDSTATUSCODES.
func (s *Server) buildCapabilities(sess *Session) []string {
	var caps []string

	caps = append(caps, "8BITMIME")

	if s.opts.MaxMessageSize > 0 {
		caps = append(caps, "SIZE "+strconv.FormatInt(s.opts.MaxMessageSize, 10))
	} else {
		caps = append(caps, "SIZE")
	}

	if s.opts.EnableTLS && !s.opts.HideTLS && !sess.TLSActive {
		caps = append(caps, "STARTTLS")
	}

	if s.authFactory != nil {
		mechs := s.authFactory.Mechanisms()
		if len(mechs) > 0 {
			caps = append(caps, "AUTH "+strings.Join(mechs, " "))
		}
	}

	caps = append(caps, "PIPELINING", "ENHANCEDSTATUSCODES", "OK")

	return caps
}
