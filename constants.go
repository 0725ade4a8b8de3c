package automap

import (
	"net"
	"time"
)

// NAT-PMP protocol constants (RFC 6886). The router listens for requests
// on RouterPort and multicasts address-change announcements to
// 224.0.0.1:AnnouncePort.
const (
	RouterPort   = 5351
	AnnouncePort = 5350
)

// multicastGroup is the fixed group the router announces on.
var multicastGroup = net.IPv4(224, 0, 0, 1)

const (
	// transactionTimeout bounds a single request/response exchange.
	// Not configurable; a lost datagram is absorbed by the next renewal.
	transactionTimeout = 3 * time.Second

	// announceReadTimeout is how long the housekeeping worker blocks in a
	// single announcement read before checking the renewal clock and the
	// command channel.
	announceReadTimeout = 25 * time.Millisecond

	// transactionBufferSize fits any NAT-PMP datagram (RFC 6887 cap).
	transactionBufferSize = 1100

	// announceBufferSize fits an announcement (a Get response).
	announceBufferSize = 100

	// defaultLeaseSeconds is the mapping lifetime requested by the Listen
	// convenience when the caller has no opinion (90 minutes).
	defaultLeaseSeconds = 90 * 60
)
