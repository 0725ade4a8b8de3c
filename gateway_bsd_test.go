//go:build darwin || freebsd || openbsd || netbsd || dragonfly

package automap

import (
	"net"
	"testing"
)

const netstatFixture = `Routing tables

Internet:
Destination        Gateway            Flags        Netif Expire
default            192.168.1.1        UGScg          en0
default            172.16.0.1%utun3   UGScIg       utun3
default            link#5             UCSI           en1
127                127.0.0.1          UCS            lo0
192.168.1          link#4             UCS            en0
`

func TestNetstatGateway(t *testing.T) {
	t.Run("Default routes are collected in table order", func(t *testing.T) {
		gateways := collectGateways(netstatFixture, netstatGateway)

		if len(gateways) != 2 {
			t.Fatalf("Expected 2 gateways, got %v", gateways)
		}
		if !gateways[0].Equal(net.IPv4(192, 168, 1, 1)) {
			t.Errorf("Expected 192.168.1.1 first, got %v", gateways[0])
		}
		// The zone suffix on the second route is stripped.
		if !gateways[1].Equal(net.IPv4(172, 16, 0, 1)) {
			t.Errorf("Expected 172.16.0.1 second, got %v", gateways[1])
		}
	})

	t.Run("Link routes and non-default destinations yield nothing", func(t *testing.T) {
		if gateway := netstatGateway([]string{"default", "link#5", "UCSI", "en1"}); gateway != nil {
			t.Errorf("Expected nil for a link route, got %v", gateway)
		}
		if gateway := netstatGateway([]string{"192.168.1", "192.168.1.1", "UCS", "en0"}); gateway != nil {
			t.Errorf("Expected nil for a subnet route, got %v", gateway)
		}
	})
}
