// Package starling is an embeddable SMTP server core.
//
// starling speaks RFC 5321 SMTP with the common ESMTP extensions
// (SIZE, STARTTLS, AUTH, PIPELINING, 8BITMIME, ENHANCEDSTATUSCODES) and hands
// off everything envelope- and message-related to collaborators supplied by
// the embedding application: a message handler factory, an authentication
// handler factory, a TLS socket wrapper, and a session id factory. starling
// itself never queues, delivers, relays, or stores mail - it is the protocol
// engine in front of whatever the caller wants to do with a message.
//
// # Quick start
//
//	srv, err := starling.New("mail.example.com").
//		Addr(":2525").
//		ReadTimeout(60 * time.Second).
//		MaxMessageSize(10 * 1024 * 1024).
//		WithMessageHandlerFactory(myFactory).
//		Build()
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, starling.ErrServerClosed) {
//		log.Fatal(err)
//	}
//
// # TLS
//
// starling never constructs a tls.Config itself. Opt in to STARTTLS with
// RequireTLS/EnableTLS and supply a TLSSocketWrapper via WithTLSWrapper;
// starling calls it once the client issues STARTTLS and swaps its line
// reader onto the returned connection.
//
// # Authentication
//
// AUTH PLAIN, LOGIN, and CRAM-MD5 are implemented by the core as wire-level
// dialogues; credential verification is always delegated to the
// AuthenticationHandlerFactory supplied by the caller.
//
// # Resource limits
//
// MaxConnections bounds concurrent sessions, ReadTimeout/connectionTimeoutMs
// bounds per-read idle time, and MaxRecipients/MaxMessageSize bound a single
// transaction. Shutdown(ctx) stops the accept loop immediately and gives
// in-flight sessions until ctx's deadline to finish before they are closed
// out from under the client.
package starling
