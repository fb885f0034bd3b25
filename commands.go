package starling

import (
	"errors"
	"net"
	"strconv"
	"strings"

	sio "github.com/svalinn-smtp/starling/io"
	"github.com/svalinn-smtp/starling/sasl"
	"github.com/svalinn-smtp/starling/utils"
)

// preHeloAllowed is the set of verbs spec.md section 4.3 permits before a
// successful HELO/EHLO.
var preHeloAllowed = map[Command]bool{
	CmdHelo: true, CmdEhlo: true, CmdNoop: true, CmdQuit: true,
	CmdRset: true, CmdHelp: true,
}

// preTLSAllowed is the set of verbs still legal under RequireTLS before the
// session has completed STARTTLS (spec.md section 3 invariant 5).
var preTLSAllowed = map[Command]bool{
	CmdNoop: true, CmdEhlo: true, CmdHelo: true, CmdQuit: true,
	CmdRset: true, CmdStartTLS: true,
}

// preAuthAllowed is the set of verbs still legal under RequireAuth before
// the session has authenticated (spec.md section 3 invariant 4).
var preAuthAllowed = map[Command]bool{
	CmdNoop: true, CmdEhlo: true, CmdHelo: true, CmdQuit: true,
	CmdRset: true, CmdStartTLS: true, CmdAuth: true,
}

// dispatch gates a parsed command against the session's current state per
// the invariants of spec.md section 3, then routes to its handler. It
// returns the reply to send and whether the connection should close after
// sending it.
func (s *Server) dispatch(sess *Session, lr *sio.LineReader, line string) (Reply, bool) {
	cmd, args := parseCommand(line)

	if cmd == CmdUnknown {
		return replyUnrecognizedCommand(), false
	}

	if sess.HeloHost == "" && !preHeloAllowed[cmd] {
		return replyBadSequence("Send HELO/EHLO first"), false
	}
	if s.opts.RequireTLS && !sess.TLSActive && !preTLSAllowed[cmd] {
		return replyAuthRequired("Must issue a STARTTLS command first"), false
	}
	if s.opts.RequireAuth && !sess.IsAuthenticated() && !preAuthAllowed[cmd] {
		return replyAuthRequired("Authentication required"), false
	}

	switch cmd {
	case CmdHelo:
		return s.handleHelo(sess, args), false
	case CmdEhlo:
		return s.handleEhlo(sess, args), false
	case CmdMail:
		return s.handleMail(sess, args), false
	case CmdRcpt:
		return s.handleRcpt(sess, args), false
	case CmdData:
		return s.handleData(sess, lr)
	case CmdRset:
		return s.handleRset(sess), false
	case CmdNoop:
		return replyOK("OK", ""), false
	case CmdQuit:
		sess.QuitSent = true
		return replyBye(s.opts.HostName), true
	case CmdStartTLS:
		return s.handleStartTLS(sess, lr, args)
	case CmdAuth:
		return s.handleAuth(sess, lr, args), false
	case CmdVrfy:
		return Reply{Code: s.opts.VRFYCode, Lines: []string{"Cannot VRFY user, but will accept message and attempt delivery"}}, false
	case CmdExpn:
		return Reply{Code: s.opts.EXPNCode, Lines: []string{"EXPN not supported"}}, false
	case CmdHelp:
		return s.handleHelp(), false
	}
	return replyUnrecognizedCommand(), false
}

func (s *Server) handleHelo(sess *Session, args string) Reply {
	if args == "" {
		return replySyntaxError("HELO requires a hostname argument")
	}
	sess.resetTransaction()
	sess.HeloHost = args
	sess.IsExtended = false
	return replyf(CodeOK, "", "%s", s.opts.HostName)
}

func (s *Server) handleEhlo(sess *Session, args string) Reply {
	if args == "" {
		return replySyntaxError("EHLO requires a hostname argument")
	}
	sess.resetTransaction()
	sess.HeloHost = args
	sess.IsExtended = true

	caps := s.buildCapabilities(sess)
	lines := make([]string, 0, len(caps)+1)
	lines = append(lines, s.opts.HostName)
	lines = append(lines, caps...)
	return Reply{Code: CodeOK, Lines: lines}
}

func (s *Server) handleMail(sess *Session, args string) Reply {
	if sess.Envelope != nil {
		return replyBadSequence("Sender already specified")
	}
	if !strings.HasPrefix(strings.ToUpper(args), "FROM:") {
		return replySyntaxError("MAIL command must start with FROM:")
	}

	path, params, err := parsePathWithParams(args[len("FROM:"):])
	if err != nil {
		return replySyntaxError(err.Error())
	}

	env := &Envelope{From: path}

	if utils.ContainsNonASCII(path.Mailbox.String()) && !strings.Contains(strings.ToUpper(args), "BODY=8BITMIME") {
		return replySyntaxError("8-bit address requires BODY=8BITMIME")
	}

	for key, value := range params {
		switch key {
		case "SIZE":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return replySyntaxError("invalid SIZE parameter")
			}
			if s.opts.MaxMessageSize > 0 && n > s.opts.MaxMessageSize {
				return replySizeExceeded()
			}
			env.DeclaredSize = n
		case "BODY":
			env.Body8Bit = strings.EqualFold(value, "8BITMIME")
			if !strings.EqualFold(value, "7BIT") && !strings.EqualFold(value, "8BITMIME") {
				return replyUnsupportedParam("BODY=" + value)
			}
		case "AUTH":
			// Accepted and stored, but not acted on (spec.md section 4.4).
		default:
			return replyUnsupportedParam(key)
		}
	}

	if s.messageFactory != nil {
		handler := s.messageFactory.Create(sess)
		if err := handler.From(path); err != nil {
			return replyFromHandlerErr(err, CodeMailboxNotFound, "5.1.0")
		}
		sess.messageHandler = handler
	}

	sess.Envelope = env
	return replyOK("Ok", ESCAddressValid)
}

func (s *Server) handleRcpt(sess *Session, args string) Reply {
	if sess.Envelope == nil {
		return replyBadSequence("Need MAIL before RCPT")
	}
	if len(sess.Envelope.Recipients) >= s.opts.MaxRecipients {
		return replyf(452, "4.5.3", "Too many recipients")
	}
	if !strings.HasPrefix(strings.ToUpper(args), "TO:") {
		return replySyntaxError("RCPT command must start with TO:")
	}

	path, _, err := parsePathWithParams(args[len("TO:"):])
	if err != nil {
		return replySyntaxError(err.Error())
	}

	for _, existing := range sess.Envelope.Recipients {
		if existing.String() == path.String() {
			return replyOK("Ok", ESCRecipientValid)
		}
	}

	if sess.messageHandler != nil {
		if err := sess.messageHandler.Recipient(path); err != nil {
			return replyFromHandlerErr(err, 550, ESCDeliveryNotAuth)
		}
	}

	sess.Envelope.Recipients = append(sess.Envelope.Recipients, path)
	return replyOK("Ok", ESCRecipientValid)
}

func (s *Server) handleRset(sess *Session) Reply {
	sess.resetTransaction()
	return replyOK("OK", "")
}

func (s *Server) handleHelp() Reply {
	return Reply{Code: CodeHelpMessage, Lines: []string{
		"Commands supported:",
		"HELO EHLO MAIL RCPT DATA RSET NOOP QUIT STARTTLS AUTH VRFY EXPN HELP",
	}}
}

func (s *Server) handleStartTLS(sess *Session, lr *sio.LineReader, args string) (Reply, bool) {
	if !s.opts.EnableTLS {
		return replyf(CodeTLSNotAvailable, "", "TLS not available"), false
	}
	if sess.TLSActive {
		return replyBadSequence("TLS already active"), false
	}
	if args != "" {
		return replyBadSequence("STARTTLS takes no arguments"), false
	}

	ready := replyf(CodeServiceReady, "", "Ready to start TLS")
	if err := ready.WriteTo(lr.Writer()); err != nil {
		return Reply{}, true
	}

	if err := lr.UpgradeTLS(func(c net.Conn) (net.Conn, error) { return s.tlsWrapper(c) }); err != nil {
		return Reply{}, true
	}

	sess.resetAfterSTARTTLS()
	return Reply{}, false
}

func (s *Server) handleAuth(sess *Session, lr *sio.LineReader, args string) Reply {
	if sess.IsAuthenticated() {
		return replyBadSequence("Already authenticated")
	}
	if sess.Envelope != nil {
		return replyBadSequence("Cannot AUTH mid-transaction")
	}
	if s.authFactory == nil {
		return replyAuthRequired("Authentication not supported")
	}

	parts := strings.SplitN(args, " ", 2)
	mechanism := strings.ToUpper(parts[0])

	supported := false
	for _, m := range s.authFactory.Mechanisms() {
		if strings.EqualFold(m, mechanism) {
			supported = true
			break
		}
	}
	if !supported {
		return replyf(CodeParameterNotImpl, "", "Mechanism not supported")
	}

	var initial string
	if len(parts) > 1 {
		initial = parts[1]
	}

	mech := s.newMechanism(mechanism)
	if mech == nil {
		return replyf(CodeParameterNotImpl, "", "Mechanism not implemented")
	}

	creds, aborted, err := s.runAuthDialogue(lr, mech, initial)
	if aborted {
		return replySyntaxError("Authentication aborted")
	}
	if err != nil {
		return replyAuthFailed()
	}

	var challenge string
	if cm, ok := mech.(*sasl.CRAMMD5); ok {
		challenge = cm.Challenge()
	}

	clientCreds := ClientCredentials{
		AuthorizationID:  creds.AuthorizationID,
		AuthenticationID: creds.AuthenticationID,
		Password:         creds.Password,
		Challenge:        challenge,
	}

	handler := s.authFactory.Create()
	outcome, _, identity := handler.Auth(mechanism, clientCreds)
	switch outcome {
	case AuthSuccess:
		sess.setAuthenticated(identity)
		return replyf(CodeAuthSuccess, ESCSecuritySuccess, "Authentication successful")
	default:
		return replyAuthFailed()
	}
}

// newMechanism mints the wire-level SASL mechanism named by the client's
// AUTH command, the three spec.md section 4.5 requires a factory be able
// to offer.
func (s *Server) newMechanism(name string) sasl.Mechanism {
	switch name {
	case "PLAIN":
		return sasl.NewPlain()
	case "LOGIN":
		return sasl.NewLogin()
	case "CRAM-MD5":
		return sasl.NewCRAMMD5(s.opts.HostName)
	default:
		return nil
	}
}

// runAuthDialogue drives a sasl.Mechanism's challenge/response loop over
// the wire: each non-final challenge is sent as a 334 continuation and the
// next line read directly off lr, exactly as the teacher's handleAuthPlain/
// handleAuthLogin read extra lines inline rather than persisting dialogue
// state across the connection loop.
func (s *Server) runAuthDialogue(lr *sio.LineReader, mech sasl.Mechanism, initial string) (*sasl.Credentials, bool, error) {
	challenge, done, err := mech.Start(initial)
	for {
		if err != nil {
			return nil, errors.Is(err, sasl.ErrAuthenticationCancelled), err
		}
		if done {
			return mech.Credentials(), false, nil
		}
		if werr := replyf(CodeAuthContinue, "", "%s", challenge).WriteTo(lr.Writer()); werr != nil {
			return nil, false, werr
		}
		line, rerr := lr.ReadLine(false, s.opts.MaxLineLength)
		if rerr != nil {
			return nil, false, rerr
		}
		challenge, done, err = mech.Next(line)
	}
}

// replyFromHandlerErr maps a collaborator error to a reply: a *CodedError
// carries an explicit reply, anything else falls back to the default per
// spec.md section 7's HandlerReject/HandlerFatal rows.
func replyFromHandlerErr(err error, defaultCode SMTPCode, defaultEnhanced EnhancedCode) Reply {
	if ce, ok := err.(*CodedError); ok {
		return ce.AsReply()
	}
	return replyf(defaultCode, defaultEnhanced, "%s", err.Error())
}
