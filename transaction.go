package automap

import (
	"fmt"
	"net"
)

// transact performs exactly one request/response exchange with the
// router: one send, one receive, a fixed 3-second wait. Retry and
// renewal policy belong to the caller.
func transact(f *factories, routerIP net.IP, routerPort uint16, request *Packet) (*Packet, error) {
	buf := make([]byte, transactionBufferSize)
	n, err := request.Marshal(buf)
	if err != nil {
		panic(fmt.Sprintf("bad packet construction: %v", err))
	}
	local := &net.UDPAddr{IP: net.IPv4zero, Port: int(f.freePort.Make())}
	socket, err := f.socket.Make(local)
	if err != nil {
		return nil, socketBindingError(local.String(), err)
	}
	defer socket.Close()
	if err := socket.SetReadTimeout(transactionTimeout); err != nil {
		panic(fmt.Sprintf("set read timeout failed: %v", err))
	}
	router := &net.UDPAddr{IP: routerIP, Port: int(routerPort)}
	if _, err := socket.SendTo(buf[:n], router); err != nil {
		return nil, socketSendError(err)
	}
	n, _, err = socket.RecvFrom(buf)
	if err != nil {
		if isTimeoutError(err) {
			return nil, protocolError("Timed out after 3 seconds")
		}
		return nil, socketReceiveError(err)
	}
	response, err := ParsePacket(buf[:n])
	if err != nil {
		return nil, packetParseError(err)
	}
	return response, nil
}
