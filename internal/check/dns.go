// Package check performs single DNS probes.
package check

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/tmater/dnswatch/internal/logger"
	"github.com/tmater/dnswatch/internal/proto"
)

// DefaultTimeout bounds one probe when no timeout is configured.
const DefaultTimeout = 3 * time.Second

// DNSProber probes keys with a fixed per-probe timeout.
type DNSProber struct {
	Timeout time.Duration
	log     *logrus.Entry
}

// NewDNSProber returns a prober bounding every query by timeout.
func NewDNSProber(timeout time.Duration) *DNSProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DNSProber{Timeout: timeout, log: logger.For("check")}
}

// Probe runs DNS for key.
func (p *DNSProber) Probe(ctx context.Context, key proto.CheckKey) proto.CheckResult {
	result := DNS(ctx, key, p.Timeout)
	fields := logrus.Fields{
		"target":     key.Target,
		"resolver":   key.Resolver,
		"rtype":      key.RecordType,
		"up":         result.Up,
		"latency_ms": fmt.Sprintf("%.1f", result.LatencyMs),
	}
	if !result.Up {
		fields["error"] = result.Error
	}
	p.log.WithFields(fields).Debug("DNS check done")
	return result
}

// DNS sends one query of key.RecordType for key.Target to key.Resolver and
// returns a CheckResult. Every failure, including timeouts, NXDOMAIN and
// empty answers, is reported through Up and Error. Latency covers the whole
// exchange whether it succeeded or not.
func DNS(ctx context.Context, key proto.CheckKey, timeout time.Duration) proto.CheckResult {
	start := time.Now()
	addrs, err := resolve(ctx, key, timeout)
	latency := time.Since(start)

	result := proto.CheckResult{
		Key:       key,
		LatencyMs: float64(latency) / float64(time.Millisecond),
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Up = true
	result.Addresses = addrs
	return result
}

func resolve(ctx context.Context, key proto.CheckKey, timeout time.Duration) ([]string, error) {
	if key.Target == "" {
		return nil, errors.New("empty target")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("invalid timeout %s", timeout)
	}
	qtype, ok := dns.StringToType[strings.ToUpper(string(key.RecordType))]
	if !ok {
		return nil, fmt.Errorf("unknown record type %q", key.RecordType)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(key.Target), qtype)
	msg.RecursionDesired = true

	server := ServerAddr(key.Resolver)
	in, err := exchange(ctx, "udp", msg, server, timeout)
	if err == nil && in.Truncated {
		in, err = exchange(ctx, "tcp", msg, server, timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", server, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s: %s", dns.RcodeToString[in.Rcode], dns.Fqdn(key.Target))
	}

	var addrs []string
	for _, rr := range in.Answer {
		if rr.Header().Rrtype != qtype {
			continue
		}
		addrs = append(addrs, rdata(rr))
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no answer: %s has no %s records", dns.Fqdn(key.Target), key.RecordType)
	}
	return addrs, nil
}

func exchange(ctx context.Context, network string, msg *dns.Msg, server string, timeout time.Duration) (*dns.Msg, error) {
	client := &dns.Client{Net: network, Timeout: timeout}
	in, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, err
	}
	return in, nil
}

// rdata returns the presentation form of rr without its header.
func rdata(rr dns.RR) string {
	switch v := rr.(type) {
	case *dns.A:
		return v.A.String()
	case *dns.AAAA:
		return v.AAAA.String()
	}
	return strings.TrimPrefix(rr.String(), rr.Header().String())
}

// ServerAddr returns resolver as host:port, defaulting the port to 53.
func ServerAddr(resolver string) string {
	if _, _, err := net.SplitHostPort(resolver); err == nil {
		return resolver
	}
	return net.JoinHostPort(strings.Trim(resolver, "[]"), "53")
}
