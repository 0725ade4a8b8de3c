package automap

import (
	"errors"
	"net"
	"os"
	"time"
)

// udpSocket is the capability surface the transaction engine and the
// housekeeping worker need from a bound datagram endpoint. A zero read
// timeout blocks forever.
type udpSocket interface {
	SetReadTimeout(d time.Duration) error
	SendTo(p []byte, addr *net.UDPAddr) (int, error)
	RecvFrom(p []byte) (int, *net.UDPAddr, error)
	Close() error
}

// udpSocketFactory makes fresh sockets bound to a given local address.
// A multicast bind address joins the group on the default interface.
type udpSocketFactory interface {
	Make(addr *net.UDPAddr) (udpSocket, error)
}

// freePortFactory picks an ephemeral local port for outgoing requests.
// A return of 0 lets the kernel choose at bind time.
type freePortFactory interface {
	Make() uint16
}

// factories bundles the OS-interaction seams shared between the facade
// and the worker.
type factories struct {
	socket   udpSocketFactory
	freePort freePortFactory
}

func defaultFactories() *factories {
	return &factories{
		socket:   &udpSocketFactoryReal{},
		freePort: &freePortFactoryReal{},
	}
}

// isTimeoutError reports whether a receive failed only because no
// datagram arrived in time. WouldBlock and TimedOut are the same
// non-error to callers here.
func isTimeoutError(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

type udpSocketReal struct {
	conn    *net.UDPConn
	timeout time.Duration
}

func (s *udpSocketReal) SetReadTimeout(d time.Duration) error {
	s.timeout = d
	return nil
}

func (s *udpSocketReal) SendTo(p []byte, addr *net.UDPAddr) (int, error) {
	return s.conn.WriteToUDP(p, addr)
}

func (s *udpSocketReal) RecvFrom(p []byte) (int, *net.UDPAddr, error) {
	var deadline time.Time
	if s.timeout > 0 {
		deadline = time.Now().Add(s.timeout)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, err
	}
	return s.conn.ReadFromUDP(p)
}

func (s *udpSocketReal) Close() error {
	return s.conn.Close()
}

type udpSocketFactoryReal struct{}

func (f *udpSocketFactoryReal) Make(addr *net.UDPAddr) (udpSocket, error) {
	var conn *net.UDPConn
	var err error
	if addr.IP != nil && addr.IP.IsMulticast() {
		conn, err = net.ListenMulticastUDP("udp4", nil, addr)
	} else {
		conn, err = net.ListenUDP("udp4", addr)
	}
	if err != nil {
		return nil, err
	}
	return &udpSocketReal{conn: conn}, nil
}

type freePortFactoryReal struct{}

func (f *freePortFactoryReal) Make() uint16 {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return 0 // the kernel picks at bind time
	}
	defer conn.Close()
	return uint16(conn.LocalAddr().(*net.UDPAddr).Port)
}
