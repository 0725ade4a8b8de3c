//go:build windows

package automap

import (
	"net"
	"strings"
	"testing"
)

const routePrintFixture = `===========================================================================
IPv4 Route Table
===========================================================================
Active Routes:
Network Destination        Netmask          Gateway       Interface  Metric
          0.0.0.0          0.0.0.0      192.168.1.1    192.168.1.100     25
          0.0.0.0          0.0.0.0          On-link     192.168.56.1    281
          0.0.0.0          0.0.0.0         10.8.0.1         10.8.0.2     50
===========================================================================
Persistent Routes:
  None
`

func TestWindowsRouteGateway(t *testing.T) {
	t.Run("Default routes with a next hop are collected in order", func(t *testing.T) {
		gateways := collectGateways(activeRoutesSection(routePrintFixture), windowsRouteGateway)

		if len(gateways) != 2 {
			t.Fatalf("Expected 2 gateways, got %v", gateways)
		}
		if !gateways[0].Equal(net.IPv4(192, 168, 1, 1)) {
			t.Errorf("Expected 192.168.1.1 first, got %v", gateways[0])
		}
		if !gateways[1].Equal(net.IPv4(10, 8, 0, 1)) {
			t.Errorf("Expected 10.8.0.1 second, got %v", gateways[1])
		}
	})

	t.Run("On-link rows are skipped", func(t *testing.T) {
		row := strings.Fields("0.0.0.0 0.0.0.0 On-link 192.168.56.1 281")
		if gateway := windowsRouteGateway(row); gateway != nil {
			t.Errorf("Expected nil for an On-link route, got %v", gateway)
		}
	})
}

func TestActiveRoutesSection(t *testing.T) {
	t.Run("The section stops at the closing bar", func(t *testing.T) {
		section := activeRoutesSection(routePrintFixture)
		if strings.Contains(section, "Persistent Routes") {
			t.Error("Section leaked past the closing separator")
		}
		if !strings.Contains(section, "192.168.1.1") {
			t.Error("Section lost the route rows")
		}
	})

	t.Run("Missing banner yields an empty section", func(t *testing.T) {
		if section := activeRoutesSection("no table here"); section != "" {
			t.Errorf("Expected empty section, got %q", section)
		}
	})
}
