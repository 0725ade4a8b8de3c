package automap

import (
	"net"
	"testing"
)

func makeNATListener(t *testing.T) (*NATListener, *transactorMock) {
	t.Helper()
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create TCP listener: %v", err)
	}
	transactor := newTransactorMock()
	addr := &NATAddr{
		network:      "tcp",
		internalAddr: inner.Addr().String(),
		externalIP:   net.IPv4(203, 0, 113, 100),
		externalPort: 12345,
	}
	return &NATListener{
		listener:   inner,
		transactor: transactor,
		routerIP:   net.IPv4(10, 0, 0, 1),
		holePort:   12345,
		addr:       addr,
	}, transactor
}

func TestNATAddr(t *testing.T) {
	addr := &NATAddr{
		network:      "tcp",
		internalAddr: "192.168.1.100:8080",
		externalIP:   net.IPv4(203, 0, 113, 100),
		externalPort: 8080,
	}

	if addr.Network() != "tcp" {
		t.Errorf("Expected tcp network, got %s", addr.Network())
	}
	if addr.String() != "203.0.113.100:8080" {
		t.Errorf("Expected external address in String(), got %s", addr.String())
	}
	if addr.InternalAddr() != "192.168.1.100:8080" {
		t.Errorf("Unexpected internal address: %s", addr.InternalAddr())
	}

	addr.setExternalIP(net.IPv4(72, 73, 74, 75))
	if addr.ExternalAddr() != "72.73.74.75:8080" {
		t.Errorf("Expected updated external address, got %s", addr.ExternalAddr())
	}
}

func TestNATListener(t *testing.T) {
	t.Run("Addr reports the external address", func(t *testing.T) {
		listener, _ := makeNATListener(t)
		defer listener.Close()

		if listener.Addr().String() != "203.0.113.100:12345" {
			t.Errorf("Unexpected Addr: %s", listener.Addr().String())
		}
		if listener.ExternalPort() != 12345 {
			t.Errorf("Expected external port 12345, got %d", listener.ExternalPort())
		}
	})

	t.Run("A NewIP change moves the advertised address", func(t *testing.T) {
		listener, _ := makeNATListener(t)
		defer listener.Close()

		listener.onChange(AutomapChange{NewIP: net.IPv4(72, 73, 74, 75)})

		if listener.Addr().String() != "72.73.74.75:12345" {
			t.Errorf("Unexpected Addr after change: %s", listener.Addr().String())
		}
	})

	t.Run("Error changes leave the address alone", func(t *testing.T) {
		listener, _ := makeNATListener(t)
		defer listener.Close()

		listener.onChange(AutomapChange{Err: protocolError("Timed out after 3 seconds")})

		if listener.Addr().String() != "203.0.113.100:12345" {
			t.Errorf("Unexpected Addr after error: %s", listener.Addr().String())
		}
	})

	t.Run("Accepted connections advertise the external address", func(t *testing.T) {
		listener, _ := makeNATListener(t)
		defer listener.Close()

		dialed, err := net.Dial("tcp", listener.addr.InternalAddr())
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		defer dialed.Close()

		conn, err := listener.Accept()
		if err != nil {
			t.Fatalf("Accept failed: %v", err)
		}
		defer conn.Close()

		if _, ok := conn.(*NATConn); !ok {
			t.Fatalf("Expected a NATConn, got %T", conn)
		}
		if conn.LocalAddr().String() != "203.0.113.100:12345" {
			t.Errorf("Expected external local address, got %s", conn.LocalAddr())
		}
		if conn.RemoteAddr() == nil {
			t.Error("Expected a remote address from the inner connection")
		}
	})

	t.Run("Close tears down once and is idempotent", func(t *testing.T) {
		listener, transactor := makeNATListener(t)

		if err := listener.Close(); err != nil {
			t.Fatalf("First Close failed: %v", err)
		}
		if err := listener.Close(); err != nil {
			t.Fatalf("Second Close failed: %v", err)
		}
		if err := listener.Close(); err != nil {
			t.Fatalf("Third Close failed: %v", err)
		}

		if transactor.stopCount() != 1 {
			t.Errorf("Expected one housekeeping stop, got %d", transactor.stopCount())
		}
		deleted := transactor.deleted()
		if len(deleted) != 1 || deleted[0] != 12345 {
			t.Errorf("Expected one deletion of port 12345, got %v", deleted)
		}

		if _, err := listener.Accept(); err == nil {
			t.Error("Expected Accept to fail after Close")
		}
	})
}
