// Package dnsresolve implements starling.RemoteHostResolver with a narrow
// reverse-DNS (PTR) lookup. It is diagnostic: the resolved name feeds
// Session.RemoteHost for logging and Received-header population, never a
// relay or MX routing decision (both of those are out of this module's
// scope).
package dnsresolve

import (
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver performs reverse PTR lookups with a bounded timeout, falling
// back to the system's configured nameservers.
type Resolver struct {
	client  *dns.Client
	servers []string
}

// New creates a Resolver with the given per-query timeout. If timeout is
// zero, a 2 second default applies.
func New(timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Resolver{
		client:  &dns.Client{Timeout: timeout},
		servers: systemNameservers(),
	}
}

// Resolve implements starling.RemoteHostResolver. It returns "" (rather
// than an error) on any failure - the caller treats an unresolved host as
// "unknown" per spec.md, never as a reason to refuse the connection.
func (r *Resolver) Resolve(addr net.Addr) string {
	ip := addrIP(addr)
	if ip == nil {
		return ""
	}

	arpa, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return ""
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	for _, server := range r.servers {
		resp, _, err := r.client.Exchange(msg, server)
		if err != nil || resp.Rcode != dns.RcodeSuccess {
			continue
		}
		for _, ans := range resp.Answer {
			if ptr, ok := ans.(*dns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, ".")
			}
		}
	}
	return ""
}

func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	case *net.IPAddr:
		return a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			host = addr.String()
		}
		return net.ParseIP(host)
	}
}

func systemNameservers() []string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return servers
}
