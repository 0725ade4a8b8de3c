package automap

import "net"

// mappingAdder installs or refreshes a port mapping and classifies the
// router's verdict. It exists as a seam so the housekeeping worker can be
// driven by scripted responses in tests; end users never see it.
type mappingAdder interface {
	addMapping(f *factories, routerAddr *net.UDPAddr, holePort uint16, lifetime uint32) (uint32, error)
}

type mappingAdderReal struct{}

// addMapping asks the router to forward TCP holePort for lifetime
// seconds. On success it returns half the granted lifetime as the
// recommended renewal interval, so renewal happens well before expiry
// and a single lost datagram cannot kill the mapping.
func (m *mappingAdderReal) addMapping(f *factories, routerAddr *net.UDPAddr, holePort uint16, lifetime uint32) (uint32, error) {
	request := &Packet{
		Direction: DirectionRequest,
		Opcode:    OpcodeMapTCP,
		Map: &MapPayload{
			InternalPort: holePort,
			ExternalPort: holePort,
			Lifetime:     lifetime,
		},
	}
	response, err := transact(f, routerAddr.IP, uint16(routerAddr.Port), request)
	if err != nil {
		return 0, err
	}
	if response.Direction == DirectionRequest {
		return 0, protocolError("Map response labeled as request")
	}
	if response.Opcode != OpcodeMapTCP {
		return 0, protocolError("Expected MapTcp response; got %v response instead", response.Opcode)
	}
	if response.Map == nil {
		panic("MapTcp response carried no map payload")
	}
	if response.ResultCode == nil {
		panic("transact allowed absent result code")
	}
	rc := *response.ResultCode
	if rc != ResultSuccess {
		return 0, mappingError(rc, rc.String())
	}
	return response.Map.Lifetime / 2, nil
}
