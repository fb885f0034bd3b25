package starling

import (
	"net/mail"
)

// MailboxAddress is an RFC 5321 section 4.1.2 mailbox address. Supports both
// ASCII addresses and internationalized ones (RFC 6531, SMTPUTF8).
type MailboxAddress struct {
	LocalPart   string
	Domain      string
	DisplayName string
}

// String returns "local-part@domain".
func (m MailboxAddress) String() string {
	if m.LocalPart == "" && m.Domain == "" {
		return ""
	}
	return m.LocalPart + "@" + m.Domain
}

// Path is an SMTP reverse-path or forward-path (RFC 5321 section 4.1.2).
type Path struct {
	Mailbox      MailboxAddress
	SourceRoutes []string
}

// IsNull reports a null reverse-path (the empty "<>" sender used for bounces).
func (p Path) IsNull() bool {
	return p.Mailbox.LocalPart == "" && p.Mailbox.Domain == ""
}

// String renders the path in angle-bracket form, as used on the wire.
func (p Path) String() string {
	if p.IsNull() {
		return "<>"
	}
	return "<" + p.Mailbox.String() + ">"
}

// ParseAddress parses an email address into a MailboxAddress. Accepts both
// bare "user@domain" and RFC 5322 "Display Name <user@domain>" forms.
func ParseAddress(addr string) (MailboxAddress, error) {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return MailboxAddress{}, err
	}

	address := parsed.Address
	var local, domain string
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == '@' {
			local = address[:i]
			domain = address[i+1:]
			break
		}
	}

	return MailboxAddress{LocalPart: local, Domain: domain, DisplayName: parsed.Name}, nil
}
