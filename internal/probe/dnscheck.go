package probe

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DNS classes reported by Diagnose.
const (
	DNSResolves      = "RESOLVES"
	DNSNXDomain      = "NXDOMAIN"
	DNSNoARecord     = "NO_A_RECORD"
	DNSServfail      = "SERVFAIL_or_TIMEOUT"
	DNSInvalidName   = "INVALID_NAME"
	defaultDNSServer = "8.8.8.8:53"
)

type DNSStatus struct {
	Domain        string
	Class         string
	IPs           []string
	CNAME         string
	Nameservers   []string
	ResolverError string
}

// DNSDiagnoser explains connection failures by querying a resolver directly.
type DNSDiagnoser struct {
	Server string
	client *dns.Client
}

// NewDNSDiagnoser uses server ("host:port") or, when empty, the first
// nameserver from /etc/resolv.conf.
func NewDNSDiagnoser(server string, timeout time.Duration) *DNSDiagnoser {
	if server == "" {
		server = defaultDNSServer
		if cc, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cc.Servers) > 0 {
			server = net.JoinHostPort(cc.Servers[0], cc.Port)
		}
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &DNSDiagnoser{Server: server, client: &dns.Client{Timeout: timeout}}
}

// HostOf pulls the hostname from an endpoint URL.
func HostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}

func (d *DNSDiagnoser) Diagnose(ctx context.Context, host string) DNSStatus {
	s := DNSStatus{Domain: strings.TrimSpace(host)}
	if s.Domain == "" || strings.Contains(s.Domain, "://") {
		s.Class = DNSInvalidName
		return s
	}
	if ip := net.ParseIP(s.Domain); ip != nil {
		s.Class = DNSResolves
		s.IPs = []string{ip.String()}
		return s
	}

	nx := false
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		resp, err := d.query(ctx, s.Domain, qtype)
		if err != nil {
			s.ResolverError = err.Error()
			continue
		}
		if resp.Rcode == dns.RcodeNameError {
			nx = true
			continue
		}
		for _, rr := range resp.Answer {
			switch v := rr.(type) {
			case *dns.A:
				s.IPs = append(s.IPs, v.A.String())
			case *dns.AAAA:
				s.IPs = append(s.IPs, v.AAAA.String())
			case *dns.CNAME:
				s.CNAME = strings.TrimSuffix(v.Target, ".")
			}
		}
	}

	if resp, err := d.query(ctx, s.Domain, dns.TypeNS); err == nil {
		for _, rr := range resp.Answer {
			if ns, ok := rr.(*dns.NS); ok {
				s.Nameservers = append(s.Nameservers, strings.TrimSuffix(ns.Ns, "."))
			}
		}
	}

	switch {
	case len(s.IPs) > 0:
		s.Class = DNSResolves
	case len(s.Nameservers) > 0:
		s.Class = DNSNoARecord
	case nx:
		s.Class = DNSNXDomain
	case s.ResolverError != "":
		s.Class = DNSServfail
	default:
		s.Class = DNSNoARecord
	}
	return s
}

func (d *DNSDiagnoser) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true
	resp, _, err := d.client.ExchangeContext(ctx, msg, d.Server)
	return resp, err
}
