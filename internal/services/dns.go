package services

import (
	"net"

	"github.com/miekg/dns"
)

const (
	dnsOpRawLookup     = 6
	dnsNameLengthLimit = 256
)

// DnsResolver answers the guest's only DNS opcode by querying a real
// upstream resolver over UDP via github.com/miekg/dns, replacing the
// original's std::net::ToSocketAddrs host-resolver shortcut
// (original_source/src/xous/services/dns.rs).
type DnsResolver struct {
	Unimplemented

	upstream string
	client   *dns.Client
}

// NewDnsResolver builds a resolver querying upstream (host:port). An
// empty upstream defaults to a public resolver, since this emulator has
// no access to the host's /etc/resolv.conf search path by design (it
// runs as an unprivileged guest sandbox).
func NewDnsResolver(upstream string) *DnsResolver {
	if upstream == "" {
		upstream = "8.8.8.8:53"
	}
	return &DnsResolver{
		Unimplemented: Unimplemented{Name: "_DNS Resolver Middleware_"},
		upstream:      upstream,
		client:        &dns.Client{},
	}
}

func nameFromMessage(buf []byte, valid uint32) (string, bool) {
	n := len(buf)
	if int(valid) < n {
		n = int(valid)
	}
	if n == 0 || n >= dnsNameLengthLimit {
		return "", false
	}
	return string(buf[:n]), true
}

func (d *DnsResolver) LendMutable(sender, opcode uint32, buf []byte, extra [2]uint32) LendResult {
	if opcode != dnsOpRawLookup {
		panic("services: unhandled dns opcode")
	}
	return d.lookup(buf, extra[1])
}

// lookup's wire format is genuinely byte-granular, not u32-word-granular,
// matching the literal byte-at-a-time cursor the original advances
// (original_source/src/xous/services/dns.rs::lookup), despite its
// comments describing a word-oriented ConnectResult-style enum:
//
//	byte 0: error flag (0 ok, 1 error)
//	byte 1: entry count (ok only)
//	per entry: 1 byte family tag (4 or 6), then 4 or 16 raw address bytes
func (d *DnsResolver) lookup(buf []byte, valid uint32) LendResult {
	fail := func() LendResult {
		if len(buf) >= 2 {
			buf[0] = 1
			buf[1] = 1
		}
		return syncLend(0, 0)
	}

	query, ok := nameFromMessage(buf, valid)
	if !ok {
		return fail()
	}

	addrs := d.resolve(query)
	if len(addrs) == 0 {
		return fail()
	}

	cursor := 0
	put := func(b byte) bool {
		if cursor >= len(buf) {
			return false
		}
		buf[cursor] = b
		cursor++
		return true
	}

	put(0)
	if len(addrs) > 255 {
		addrs = addrs[:255]
	}
	put(byte(len(addrs)))
	for _, ip := range addrs {
		if v4 := ip.To4(); v4 != nil {
			if !put(4) {
				break
			}
			for _, b := range v4 {
				if !put(b) {
					break
				}
			}
		} else {
			if !put(6) {
				break
			}
			for _, b := range ip.To16() {
				if !put(b) {
					break
				}
			}
		}
	}
	return syncLend(0, 0)
}

func (d *DnsResolver) resolve(name string) []net.IP {
	host := name
	if h, _, err := net.SplitHostPort(name); err == nil {
		host = h
	}
	fqdn := dns.Fqdn(host)

	var addrs []net.IP
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(fqdn, qtype)
		reply, _, err := d.client.Exchange(msg, d.upstream)
		if err != nil || reply == nil {
			continue
		}
		for _, rr := range reply.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				addrs = append(addrs, rec.A)
			case *dns.AAAA:
				addrs = append(addrs, rec.AAAA)
			}
		}
	}
	return addrs
}
