package sasl

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// CRAMMD5 implements the CRAM-MD5 SASL mechanism (RFC 2195). Unlike PLAIN
// and LOGIN, the client never reveals the plaintext password; it returns an
// HMAC-MD5 digest of the server's own challenge keyed by the password. The
// mechanism only extracts the username and hex digest - recomputing and
// comparing the digest against the stored secret is the verifier's job,
// since only the verifier holds (or can derive) the plaintext password.
type CRAMMD5 struct {
	hostname  string
	challenge string
	digest    string
	creds     *Credentials
	done      bool
}

// NewCRAMMD5 creates a CRAM-MD5 mechanism that embeds hostname in its
// generated challenge, per RFC 2195's "<random>@<hostname>" convention.
func NewCRAMMD5(hostname string) *CRAMMD5 {
	return &CRAMMD5{hostname: hostname}
}

func (c *CRAMMD5) Name() string { return "CRAM-MD5" }

// Start always issues the challenge; CRAM-MD5 has no initial-response form.
func (c *CRAMMD5) Start(initialResponse string) (challenge string, done bool, err error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", true, err
	}
	c.challenge = fmt.Sprintf("<%x.%d@%s>", buf, time.Now().UnixNano(), c.hostname)
	return base64.StdEncoding.EncodeToString([]byte(c.challenge)), false, nil
}

// Next parses "username hex-hmac-digest" per RFC 2195 section 3.
func (c *CRAMMD5) Next(response string) (challenge string, done bool, err error) {
	if response == "*" {
		c.done = true
		return "", true, ErrAuthenticationCancelled
	}

	decoded, err := base64.StdEncoding.DecodeString(response)
	if err != nil {
		c.done = true
		return "", true, ErrInvalidBase64
	}

	idx := bytes.LastIndexByte(decoded, ' ')
	if idx < 0 {
		c.done = true
		return "", true, ErrInvalidFormat
	}

	username := string(decoded[:idx])
	digest := string(decoded[idx+1:])
	if username == "" || len(digest) != 32 {
		c.done = true
		return "", true, ErrInvalidFormat
	}

	c.digest = digest
	c.creds = &Credentials{AuthenticationID: username, Password: digest}
	c.done = true
	return "", true, nil
}

// Credentials returns the username and hex HMAC-MD5 digest extracted from
// the client's response. Password carries the digest, not a plaintext
// secret - the verifier must recompute HMAC-MD5(secret, Challenge()) and
// compare it (constant-time) against Password.
func (c *CRAMMD5) Credentials() *Credentials { return c.creds }

// Challenge returns the server challenge this response was computed against.
func (c *CRAMMD5) Challenge() string { return c.challenge }
