package starling

import (
	"time"

	"github.com/tinylib/msgp/msgp"
)

// SessionSummary is a compact per-connection telemetry record, emitted once
// at connection close to a configured SummarySink. It is operational
// telemetry (what happened on the wire), not message content, queueing
// state, or delivery status, so it sits outside the module's Non-goals.
//
// MarshalMsg/UnmarshalMsg implement msgp.Marshaler/msgp.Unmarshaler by hand
// against the msgp runtime support package, the same wire format
// `msgp -file ...` would generate, without requiring codegen to be run.
type SessionSummary struct {
	SessionID     string
	RemoteAddress string
	RemoteHost    string
	HeloHost      string
	IsExtended    bool
	TLSActive     bool
	Authenticated bool
	AuthSubject   string
	Recipients    int
	BytesReceived int64
	ConnectedAt   time.Time
	Duration      time.Duration
	Outcome       string // "quit", "timeout", "closed", "error"
}

var _ msgp.Marshaler = SessionSummary{}
var _ msgp.Unmarshaler = (*SessionSummary)(nil)

const summaryFieldCount = 13

// MarshalMsg appends the MessagePack encoding of s to b.
func (s SessionSummary) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, summaryFieldCount)

	b = msgp.AppendString(b, "session_id")
	b = msgp.AppendString(b, s.SessionID)
	b = msgp.AppendString(b, "remote_address")
	b = msgp.AppendString(b, s.RemoteAddress)
	b = msgp.AppendString(b, "remote_host")
	b = msgp.AppendString(b, s.RemoteHost)
	b = msgp.AppendString(b, "helo_host")
	b = msgp.AppendString(b, s.HeloHost)
	b = msgp.AppendString(b, "is_extended")
	b = msgp.AppendBool(b, s.IsExtended)
	b = msgp.AppendString(b, "tls_active")
	b = msgp.AppendBool(b, s.TLSActive)
	b = msgp.AppendString(b, "authenticated")
	b = msgp.AppendBool(b, s.Authenticated)
	b = msgp.AppendString(b, "auth_subject")
	b = msgp.AppendString(b, s.AuthSubject)
	b = msgp.AppendString(b, "recipients")
	b = msgp.AppendInt(b, s.Recipients)
	b = msgp.AppendString(b, "bytes_received")
	b = msgp.AppendInt64(b, s.BytesReceived)
	b = msgp.AppendString(b, "connected_at")
	b = msgp.AppendTime(b, s.ConnectedAt)
	b = msgp.AppendString(b, "duration_ns")
	b = msgp.AppendInt64(b, int64(s.Duration))
	b = msgp.AppendString(b, "outcome")
	b = msgp.AppendString(b, s.Outcome)

	return b, nil
}

// UnmarshalMsg decodes the MessagePack encoding of a SessionSummary from bts.
func (s *SessionSummary) UnmarshalMsg(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < n; i++ {
		var field string
		field, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		switch field {
		case "session_id":
			s.SessionID, bts, err = msgp.ReadStringBytes(bts)
		case "remote_address":
			s.RemoteAddress, bts, err = msgp.ReadStringBytes(bts)
		case "remote_host":
			s.RemoteHost, bts, err = msgp.ReadStringBytes(bts)
		case "helo_host":
			s.HeloHost, bts, err = msgp.ReadStringBytes(bts)
		case "is_extended":
			s.IsExtended, bts, err = msgp.ReadBoolBytes(bts)
		case "tls_active":
			s.TLSActive, bts, err = msgp.ReadBoolBytes(bts)
		case "authenticated":
			s.Authenticated, bts, err = msgp.ReadBoolBytes(bts)
		case "auth_subject":
			s.AuthSubject, bts, err = msgp.ReadStringBytes(bts)
		case "recipients":
			s.Recipients, bts, err = msgp.ReadIntBytes(bts)
		case "bytes_received":
			s.BytesReceived, bts, err = msgp.ReadInt64Bytes(bts)
		case "connected_at":
			s.ConnectedAt, bts, err = msgp.ReadTimeBytes(bts)
		case "duration_ns":
			var d int64
			d, bts, err = msgp.ReadInt64Bytes(bts)
			s.Duration = time.Duration(d)
		case "outcome":
			s.Outcome, bts, err = msgp.ReadStringBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}
