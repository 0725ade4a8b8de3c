package automap

import (
	"encoding/hex"
	"log/slog"
	"net"
	"time"
)

// worker is the housekeeping goroutine: it owns the announcement socket
// for its lifetime, refreshes the mapping on schedule, and reacts to
// router announcements that the public address changed.
type worker struct {
	socket      udpSocket
	commands    <-chan WorkerCommand
	adder       mappingAdder
	factories   *factories
	routerAddr  *net.UDPAddr
	handler     ChangeHandler
	config      MappingConfig
	readTimeout time.Duration
	logger      *slog.Logger
}

func (w *worker) run() {
	defer w.socket.Close()
	lastRemapped := time.Now()
	remapInterval := time.Duration(w.config.Lifetime) * time.Second
	if err := w.socket.SetReadTimeout(w.readTimeout); err != nil {
		panic("can't set read timeout: " + err.Error())
	}
	buf := make([]byte, announceBufferSize)
	for {
		n, source, err := w.socket.RecvFrom(buf)
		switch {
		case err == nil:
			if source != nil && source.IP.Equal(w.routerAddr.IP) {
				if publicIP, perr := w.parseAnnouncement(buf[:n], source); perr == nil {
					w.handleAnnouncement(publicIP)
				}
				// Parse rejections were already logged.
			}
		case isTimeoutError(err):
			// Nothing announced this interval.
		default:
			w.logger.Error("receiving announcement from router", "error", err)
		}

		if time.Since(lastRemapped) > remapInterval {
			if _, err := w.remapPort(); err != nil {
				aerr, ok := err.(*AutomapError)
				if !ok {
					aerr = protocolError("%v", err)
				}
				w.logger.Error("remapping failure", "error", aerr)
				w.handler(AutomapChange{Err: aerr})
			}
			lastRemapped = time.Now()
		}

		select {
		case command := <-w.commands:
			switch c := command.(type) {
			case StopWorker:
				return
			case SetRemapInterval:
				remapInterval = c.Interval
			}
		default:
		}
	}
}

// remapPort refreshes the lease with the originally requested lifetime,
// clamped to at least one second.
func (w *worker) remapPort() (uint32, error) {
	w.logger.Info("remapping port", "port", w.config.HolePort)
	lifetime := w.config.Lifetime
	if lifetime < 1 {
		lifetime = 1
	}
	return w.adder.addMapping(w.factories, w.routerAddr, w.config.HolePort, lifetime)
}

// parseAnnouncement validates a candidate announcement datagram and
// extracts the announced public address. Anything that is not a Get
// response from the router is rejected with a logged warning.
func (w *worker) parseAnnouncement(raw []byte, source *net.UDPAddr) (net.IP, error) {
	packet, err := ParsePacket(raw)
	if err != nil {
		w.logger.Error("unparseable PMP packet", "dump", "\n"+hex.Dump(raw))
		msg := protocolError("Unparseable packet from router at %v: ignoring", source)
		w.logger.Warn(msg.Detail)
		return nil, msg
	}
	if packet.Direction != DirectionResponse {
		msg := protocolError("Unexpected PMP Get request (request!) from router at %v: ignoring", source)
		w.logger.Warn(msg.Detail)
		return nil, msg
	}
	if packet.Opcode != OpcodeGet {
		msg := protocolError("Unexpected PMP %v response (instead of Get) from router at %v: ignoring", packet.Opcode, source)
		w.logger.Warn(msg.Detail)
		return nil, msg
	}
	if packet.Get == nil || packet.Get.ExternalIP == nil {
		panic("a Get response should always produce an external ip address")
	}
	return packet.Get.ExternalIP, nil
}

// handleAnnouncement reinstalls the mapping after the router reported a
// new public address, then tells the observer. All failure paths return
// to the main loop; the worker never dies over a mapping failure.
func (w *worker) handleAnnouncement(publicIP net.IP) {
	request := &Packet{
		Direction: DirectionRequest,
		Opcode:    OpcodeMapTCP,
		Map: &MapPayload{
			InternalPort: w.config.HolePort,
			ExternalPort: w.config.HolePort,
			Lifetime:     w.config.Lifetime,
		},
	}
	w.logger.Debug("sending mapping request and waiting for response", "router", w.routerAddr)
	response, err := transact(w.factories, w.routerAddr.IP, uint16(w.routerAddr.Port), request)
	if err != nil {
		w.logger.Error("remapping after IP change failed", "error", err)
		w.handler(AutomapChange{Err: &AutomapError{Kind: KindSocketReceive, Cause: CauseSocketFailure}})
		return
	}
	switch {
	case response.ResultCode == nil:
		msg := protocolError("Remapping after IP change failed; Node is useless: Received request when expecting response")
		w.logger.Error(msg.Detail)
		w.handler(AutomapChange{Err: msg})
	case *response.ResultCode == ResultSuccess:
		w.logger.Debug("received response; triggering change handler")
		w.handler(AutomapChange{NewIP: publicIP})
	default:
		rc := *response.ResultCode
		detail := "Remapping after IP change failed; Node is useless: " + rc.String()
		w.logger.Error(detail)
		w.handler(AutomapChange{Err: mappingError(rc, detail)})
	}
}
