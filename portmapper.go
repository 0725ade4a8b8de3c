package automap

import (
	"context"
	"fmt"
	"net"
)

// NewTransactor picks a working port-mapping protocol: NAT-PMP first
// (it is a single cheap datagram exchange), then UPnP IGD. It returns
// the transactor together with the router it answered from.
func NewTransactor(ctx context.Context) (Transactor, net.IP, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("context cancelled: %w", err)
	}

	pmp := NewPmpTransactor()
	if routers, err := pmp.FindRouters(); err == nil {
		for _, router := range routers {
			if _, err := pmp.GetPublicIP(router); err == nil {
				return pmp, router, nil
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("context cancelled after PMP attempt: %w", err)
	}

	igdp, err := NewIgdpTransactor(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("no port-mapping protocol available: PMP failed, IGDP failed: %w", err)
	}
	routers, err := igdp.FindRouters()
	if err != nil || len(routers) == 0 {
		return nil, nil, fmt.Errorf("IGD answered but no router address found: %v", err)
	}
	return igdp, routers[0], nil
}
