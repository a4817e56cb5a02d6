package dnstest

import (
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

// Names served by Zone.
const (
	NameUp    = "up.test."    // A 127.0.0.1, AAAA ::1, TXT "dnswatch"
	NameSlow  = "slow.test."  // like up.test. after SlowDelay
	NameFlap  = "flap.test."  // alternates between SERVFAIL and up.test. answers
	NameDown  = "down.test."  // always SERVFAIL
	NameEmpty = "empty.test." // NOERROR without answers
	NameBig   = "big.test."   // truncated over UDP, full answer over TCP
)

// Zone is a dns.Handler with fixed behaviours per name. Every other name
// gets NXDOMAIN.
type Zone struct {
	SlowDelay time.Duration

	queries atomic.Uint64
	flaps   atomic.Uint64
}

// NewZone returns a zone whose slow name answers after two seconds.
func NewZone() *Zone {
	return &Zone{SlowDelay: 2 * time.Second}
}

// Queries returns the number of requests served.
func (z *Zone) Queries() uint64 { return z.queries.Load() }

// ServeDNS implements dns.Handler.
func (z *Zone) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	z.queries.Add(1)

	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.RecursionAvailable = true
	if len(req.Question) != 1 {
		resp.Rcode = dns.RcodeFormatError
		w.WriteMsg(resp)
		return
	}
	q := req.Question[0]

	switch strings.ToLower(q.Name) {
	case NameUp:
		resp.Answer = answers(q)
	case NameSlow:
		time.Sleep(z.SlowDelay)
		resp.Answer = answers(q)
	case NameFlap:
		if z.flaps.Add(1)%2 == 1 {
			resp.Rcode = dns.RcodeServerFailure
		} else {
			resp.Answer = answers(q)
		}
	case NameDown:
		resp.Rcode = dns.RcodeServerFailure
	case NameEmpty:
	case NameBig:
		if _, udp := w.RemoteAddr().(*net.UDPAddr); udp {
			resp.Truncated = true
		} else {
			resp.Answer = answers(q)
		}
	default:
		resp.Rcode = dns.RcodeNameError
	}
	w.WriteMsg(resp)
}

func answers(q dns.Question) []dns.RR {
	hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: 60}
	switch q.Qtype {
	case dns.TypeA:
		return []dns.RR{&dns.A{Hdr: hdr, A: net.ParseIP("127.0.0.1")}}
	case dns.TypeAAAA:
		return []dns.RR{&dns.AAAA{Hdr: hdr, AAAA: net.ParseIP("::1")}}
	case dns.TypeTXT:
		return []dns.RR{&dns.TXT{Hdr: hdr, Txt: []string{"dnswatch"}}}
	}
	return nil
}
