package automap

import (
	"fmt"
	"net"
	"strings"
)

// findRouters assembles a ranked list of candidate gateways. Every
// default-route gateway the platform reports is considered, with
// private-network addresses promoted: a residential router virtually
// always sits on an RFC 1918 address, so a public next-hop (a modem in
// bridge mode, a VPN) is a worse bet. The subnet-.1 guess closes the
// list as a last resort.
func findRouters() ([]net.IP, error) {
	guess, _ := subnetGatewayGuess()
	candidates := rankRouters(defaultRouteGateways(), guess)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate routers: routing table yielded nothing and the local subnet is unknown")
	}
	return candidates, nil
}

// rankRouters orders routing-table gateways (private before public,
// table order within each class), appends the subnet guess, and drops
// duplicates and non-IPv4 entries.
func rankRouters(table []net.IP, guess net.IP) []net.IP {
	var private, public []net.IP
	seen := make(map[string]bool)
	usable := func(ip net.IP) net.IP {
		ip4 := ip.To4()
		if ip4 == nil || ip4.Equal(net.IPv4zero) || seen[ip4.String()] {
			return nil
		}
		seen[ip4.String()] = true
		return ip4
	}
	for _, ip := range table {
		ip4 := usable(ip)
		if ip4 == nil {
			continue
		}
		if ip4.IsPrivate() {
			private = append(private, ip4)
		} else {
			public = append(public, ip4)
		}
	}
	ranked := append(private, public...)
	if guess != nil {
		if ip4 := usable(guess); ip4 != nil {
			ranked = append(ranked, ip4)
		}
	}
	return ranked
}

// subnetGatewayGuess assumes the router sits at .1 of the local subnet,
// which holds for most residential networks.
func subnetGatewayGuess() (net.IP, error) {
	local, err := localAddressToward("8.8.8.8:80")
	if err != nil {
		return nil, fmt.Errorf("failed to determine local IP: %w", err)
	}
	ip := net.ParseIP(local)
	if ip = ip.To4(); ip == nil {
		return nil, fmt.Errorf("local address %s is not IPv4", local)
	}
	return net.IPv4(ip[0], ip[1], ip[2], 1), nil
}

// collectGateways feeds each line's whitespace-split fields to fromLine
// and accumulates the gateways it yields, preserving line order. Header
// lines fall out naturally: no interpreter recognizes their fields.
func collectGateways(text string, fromLine func(fields []string) net.IP) []net.IP {
	var gateways []net.IP
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if gateway := fromLine(fields); gateway != nil {
			gateways = append(gateways, gateway)
		}
	}
	return gateways
}

// gatewayFieldIP parses a gateway column entry. Zone suffixes
// ("192.168.1.1%en0") are tolerated; link entries ("link#5") and bare
// interface names are not addresses and yield nil.
func gatewayFieldIP(field string) net.IP {
	if idx := strings.IndexByte(field, '%'); idx != -1 {
		field = field[:idx]
	}
	ip := net.ParseIP(field)
	if ip == nil {
		return nil
	}
	return ip.To4()
}
