package automap

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// NATAddr is a network address that knows both its internal and
// external forms. String() reports the external one, which is what a
// peer on the internet must dial.
type NATAddr struct {
	network      string
	internalAddr string

	mu           sync.Mutex
	externalIP   net.IP
	externalPort uint16
}

// Network returns the network type (tcp/udp).
func (a *NATAddr) Network() string {
	return a.network
}

// String returns the external address.
func (a *NATAddr) String() string {
	return a.ExternalAddr()
}

// InternalAddr returns the address the local service is bound to.
func (a *NATAddr) InternalAddr() string {
	return a.internalAddr
}

// ExternalAddr returns the address peers reach this service at. It can
// change over the listener's lifetime when the router's public address
// moves.
func (a *NATAddr) ExternalAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fmt.Sprintf("%s:%d", a.externalIP, a.externalPort)
}

func (a *NATAddr) setExternalIP(ip net.IP) {
	a.mu.Lock()
	a.externalIP = ip
	a.mu.Unlock()
}

// NATListener is a net.Listener whose port is held open on the router
// for as long as it lives. Housekeeping renews the mapping in the
// background and tracks public-address changes.
type NATListener struct {
	listener   net.Listener
	transactor Transactor
	routerIP   net.IP
	holePort   uint16
	addr       *NATAddr

	mu     sync.Mutex
	closed bool
}

// Listen opens a TCP listener on port and a matching mapping on the
// router, using whichever protocol the router speaks.
func Listen(port uint16) (*NATListener, error) {
	return ListenContext(context.Background(), port)
}

// ListenContext is Listen with cancellation during protocol discovery.
// Once the listener exists the context is no longer consulted; use
// Close to tear it down.
func ListenContext(ctx context.Context, port uint16) (*NATListener, error) {
	transactor, router, err := NewTransactor(ctx)
	if err != nil {
		return nil, err
	}
	interval, err := transactor.AddMapping(router, port, defaultLeaseSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to create port mapping: %w", err)
	}
	publicIP, err := transactor.GetPublicIP(router)
	if err != nil {
		transactor.DeleteMapping(router, port)
		return nil, fmt.Errorf("failed to get external IP: %w", err)
	}
	inner, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		transactor.DeleteMapping(router, port)
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	addr := &NATAddr{
		network:      "tcp",
		internalAddr: inner.Addr().String(),
		externalIP:   publicIP,
		externalPort: port,
	}
	l := &NATListener{
		listener:   inner,
		transactor: transactor,
		routerIP:   router,
		holePort:   port,
		addr:       addr,
	}

	commander, err := transactor.StartHousekeepingThread(l.onChange, router)
	if err != nil {
		inner.Close()
		transactor.DeleteMapping(router, port)
		return nil, fmt.Errorf("failed to start housekeeping: %w", err)
	}
	// Renew at the router's recommended cadence rather than the lease
	// length the worker defaults to.
	if interval > 0 {
		commander <- SetRemapInterval{Interval: time.Duration(interval) * time.Second}
	}
	return l, nil
}

// onChange tracks the public address across router announcements.
// Mapping errors are already logged by the worker; a listener has no
// better recovery than the worker's own renewal loop.
func (l *NATListener) onChange(change AutomapChange) {
	if change.NewIP != nil {
		l.addr.setExternalIP(change.NewIP)
	}
}

// NATConn is a net.Conn whose LocalAddr reports the NAT-aware address,
// so a peer handed this connection advertises the router-side endpoint
// rather than the private one.
type NATConn struct {
	net.Conn
	localAddr *NATAddr
}

// LocalAddr returns the NAT-aware local address.
func (c *NATConn) LocalAddr() net.Addr {
	return c.localAddr
}

// Accept waits for and returns the next connection.
func (l *NATListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("listener closed")
	}
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return &NATConn{Conn: conn, localAddr: l.addr}, nil
}

// Close stops housekeeping, removes the router mapping, and closes the
// inner listener. Safe to call more than once.
func (l *NATListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.transactor.StopHousekeepingThread()
	l.transactor.DeleteMapping(l.routerIP, l.holePort)
	return l.listener.Close()
}

// Addr returns the listener's NAT-aware address.
func (l *NATListener) Addr() net.Addr {
	return l.addr
}

// ExternalPort returns the port held open on the router.
func (l *NATListener) ExternalPort() uint16 {
	return l.holePort
}
