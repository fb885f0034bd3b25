package starling

import "time"

// ServerOptions is the flat, immutable configuration record spec.md section
// 3 describes. It is assembled once by ServerBuilder.Build and never
// mutated afterward.
type ServerOptions struct {
	HostName     string
	BindAddress  string
	Port         int
	Backlog      int
	SoftwareName string

	EnableTLS   bool
	HideTLS     bool
	RequireTLS  bool
	RequireAuth bool

	InsertReceivedHeaders bool

	MaxConnections        int
	ConnectionTimeout     time.Duration
	MaxRecipients         int
	MaxMessageSize        int64 // 0 = unadvertised, not enforced (see spec Non-goals)
	MaxLineLength         int
	MaxConsecutiveErrors  int // 0 = disabled; see SPEC_FULL.md section 11

	ShutdownGrace time.Duration

	VRFYCode SMTPCode
	EXPNCode SMTPCode
}

const (
	defaultBacklog           = 50
	defaultMaxConnections    = 1000
	defaultConnectionTimeout = 60 * time.Second
	defaultMaxRecipients     = 1000
	defaultMaxLineLength     = 1000 // RFC 5321 section 4.5.3.1: 998 + CRLF
	defaultShutdownGrace     = 30 * time.Second
	defaultSoftwareName      = "starling"
)

func defaultOptions(hostname string) ServerOptions {
	return ServerOptions{
		HostName:              hostname,
		Port:                  25,
		Backlog:               defaultBacklog,
		SoftwareName:          defaultSoftwareName,
		InsertReceivedHeaders: true,
		MaxConnections:        defaultMaxConnections,
		ConnectionTimeout:     defaultConnectionTimeout,
		MaxRecipients:         defaultMaxRecipients,
		MaxLineLength:         defaultMaxLineLength,
		ShutdownGrace:         defaultShutdownGrace,
		VRFYCode:              CodeCannotVRFY,
		EXPNCode:              CodeCommandNotImplemented,
	}
}
