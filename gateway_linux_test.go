//go:build linux

package automap

import (
	"net"
	"strings"
	"testing"
)

const routeTableFixture = `Iface	Destination	Gateway 	Flags	RefCnt	Use	Metric	Mask		MTU	Window	IRTT
eth0	00000000	0101A8C0	0003	0	0	100	00000000	0	0	0
eth0	0001A8C0	00000000	0001	0	0	100	00FFFFFF	0	0	0
wlan0	00000000	FE01A8C0	0003	0	0	600	00000000	0	0	0
tun0	00000000	0100000A	0000	0	0	50	00000000	0	0	0
`

func TestLinuxRouteGateway(t *testing.T) {
	t.Run("Every up default gateway is collected in order", func(t *testing.T) {
		gateways := collectGateways(routeTableFixture, linuxRouteGateway)

		if len(gateways) != 2 {
			t.Fatalf("Expected 2 gateways, got %v", gateways)
		}
		if !gateways[0].Equal(net.IPv4(192, 168, 1, 1)) {
			t.Errorf("Expected 192.168.1.1 first, got %v", gateways[0])
		}
		if !gateways[1].Equal(net.IPv4(192, 168, 1, 254)) {
			t.Errorf("Expected 192.168.1.254 second, got %v", gateways[1])
		}
	})

	t.Run("Down routes are skipped", func(t *testing.T) {
		// The tun0 row has flags 0000: present but not up.
		gateways := collectGateways(routeTableFixture, linuxRouteGateway)
		for _, gateway := range gateways {
			if gateway.Equal(net.IPv4(10, 0, 0, 1)) {
				t.Errorf("Down route's gateway should not appear: %v", gateways)
			}
		}
	})

	t.Run("Non-default destinations are skipped", func(t *testing.T) {
		row := strings.Fields("eth0 0001A8C0 0101A8C0 0003")
		if gateway := linuxRouteGateway(row); gateway != nil {
			t.Errorf("Expected nil for a subnet route, got %v", gateway)
		}
	})
}

func TestRouteWordIP(t *testing.T) {
	t.Run("Host-order hex decodes to dotted quad", func(t *testing.T) {
		ip := routeWordIP("0101A8C0")
		if !ip.Equal(net.IPv4(192, 168, 1, 1)) {
			t.Errorf("Expected 192.168.1.1, got %v", ip)
		}
	})

	t.Run("The zero word is not a gateway", func(t *testing.T) {
		if ip := routeWordIP("00000000"); ip != nil {
			t.Errorf("Expected nil for 0.0.0.0, got %v", ip)
		}
	})

	t.Run("Wrong lengths and non-hex words are rejected", func(t *testing.T) {
		for _, word := range []string{"0101A8", "0101A8C0FF", "ZZZZZZZZ", ""} {
			if ip := routeWordIP(word); ip != nil {
				t.Errorf("%q: expected nil, got %v", word, ip)
			}
		}
	})
}
