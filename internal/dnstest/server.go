// Package dnstest runs a small DNS server on the loopback interface for tests
// and for the dnswatch-mock binary.
package dnstest

import (
	"fmt"
	"net"
	"sync"

	"github.com/miekg/dns"
)

// Server serves one handler over UDP and TCP on the same port.
type Server struct {
	Addr string

	udp *dns.Server
	tcp *dns.Server

	closeOnce sync.Once
}

// Listen starts serving h on addr (host:port, port 0 picks a free one).
func Listen(addr string, h dns.Handler) (*Server, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	ln, err := net.Listen("tcp", pc.LocalAddr().String())
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("listen tcp: %w", err)
	}

	var started sync.WaitGroup
	started.Add(2)
	s := &Server{
		Addr: pc.LocalAddr().String(),
		udp:  &dns.Server{PacketConn: pc, Handler: h, NotifyStartedFunc: started.Done},
		tcp:  &dns.Server{Listener: ln, Handler: h, NotifyStartedFunc: started.Done},
	}
	go s.udp.ActivateAndServe()
	go s.tcp.ActivateAndServe()
	started.Wait()
	return s, nil
}

// Close stops both listeners.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if uerr := s.udp.Shutdown(); uerr != nil {
			err = uerr
		}
		if terr := s.tcp.Shutdown(); terr != nil && err == nil {
			err = terr
		}
	})
	return err
}
