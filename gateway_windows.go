//go:build windows

package automap

import (
	"net"
	"os/exec"
	"strings"
)

// defaultRouteGateways lists the 0.0.0.0/0 gateways from the Windows
// IPv4 route table, in the order `route print` emits them.
func defaultRouteGateways() []net.IP {
	output, err := exec.Command("route", "print", "0.0.0.0").Output()
	if err != nil {
		return nil
	}
	return collectGateways(activeRoutesSection(string(output)), windowsRouteGateway)
}

// activeRoutesSection slices the text between the "Active Routes:"
// banner and the separator that closes it; route print surrounds every
// table with ==== bars.
func activeRoutesSection(output string) string {
	const banner = "Active Routes:"
	start := strings.Index(output, banner)
	if start == -1 {
		return ""
	}
	section := output[start+len(banner):]
	if end := strings.Index(section, "===="); end != -1 {
		section = section[:end]
	}
	return section
}

// windowsRouteGateway interprets one Active Routes row
// (destination netmask gateway interface metric). On-link rows have no
// next-hop address.
func windowsRouteGateway(fields []string) net.IP {
	if len(fields) < 4 || fields[0] != "0.0.0.0" || fields[1] != "0.0.0.0" {
		return nil
	}
	if fields[2] == "On-link" {
		return nil
	}
	return gatewayFieldIP(fields[2])
}
