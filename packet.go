package automap

import (
	"encoding/binary"
	"fmt"
	"net"
)

// NAT-PMP wire codec. Version 0 only. A response opcode is the request
// opcode with the high bit set.

const (
	pmpVersion           = 0
	responseBit          = 0x80
	headerLength         = 2
	responseHeaderLength = 4

	getRequestLength  = headerLength
	getResponseLength = responseHeaderLength + 8
	mapRequestLength  = responseHeaderLength + 8
	mapResponseLength = responseHeaderLength + 12
)

// Direction says which way a packet is travelling.
type Direction byte

const (
	DirectionRequest Direction = iota
	DirectionResponse
)

func (d Direction) String() string {
	switch d {
	case DirectionRequest:
		return "Request"
	case DirectionResponse:
		return "Response"
	default:
		return fmt.Sprintf("Direction(%d)", byte(d))
	}
}

// Opcode identifies the operation a packet requests or answers.
type Opcode byte

const (
	OpcodeGet    Opcode = 0
	OpcodeMapUDP Opcode = 1
	OpcodeMapTCP Opcode = 2
)

func (o Opcode) String() string {
	switch o {
	case OpcodeGet:
		return "Get"
	case OpcodeMapUDP:
		return "MapUdp"
	case OpcodeMapTCP:
		return "MapTcp"
	default:
		return fmt.Sprintf("Other(%d)", byte(o))
	}
}

// ResultCode is the router's verdict in a response.
type ResultCode uint16

const (
	ResultSuccess ResultCode = iota
	ResultUnsupportedVersion
	ResultNotAuthorized
	ResultNetworkFailure
	ResultOutOfResources
	ResultUnsupportedOpcode
)

func (rc ResultCode) String() string {
	switch rc {
	case ResultSuccess:
		return "Success"
	case ResultUnsupportedVersion:
		return "UnsupportedVersion"
	case ResultNotAuthorized:
		return "NotAuthorized"
	case ResultNetworkFailure:
		return "NetworkFailure"
	case ResultOutOfResources:
		return "OutOfResources"
	case ResultUnsupportedOpcode:
		return "UnsupportedOpcode"
	default:
		return fmt.Sprintf("Unknown(%d)", uint16(rc))
	}
}

// IsPermanent reports whether retrying the same request can ever succeed.
// NetworkFailure and OutOfResources are router conditions that may clear;
// the rest mean the router will never accept this request.
func (rc ResultCode) IsPermanent() bool {
	switch rc {
	case ResultNetworkFailure, ResultOutOfResources:
		return false
	default:
		return true
	}
}

// GetPayload carries the fields of a Get packet. Requests are empty;
// responses carry the epoch and the router's external address.
type GetPayload struct {
	Epoch      uint32
	ExternalIP net.IP
}

// MapPayload carries the fields of a MapUdp/MapTcp packet.
type MapPayload struct {
	Epoch        uint32
	InternalPort uint16
	ExternalPort uint16
	Lifetime     uint32
}

// Packet is a parsed or to-be-marshalled NAT-PMP packet. ResultCode is
// nil on requests and always present on responses. A Get packet carries
// Get and a MapUdp/MapTcp packet carries Map; a parsed packet with any
// other opcode carries neither.
type Packet struct {
	Direction  Direction
	Opcode     Opcode
	ResultCode *ResultCode
	Get        *GetPayload
	Map        *MapPayload
}

// ParseError reports why a buffer could not be decoded as a packet.
type ParseError struct {
	Reason string
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Detail
}

// Parse-rejection reasons.
const (
	ParseShortBuffer  = "ShortBuffer"
	ParseWrongVersion = "WrongVersion"
)

// Marshal writes the packet into buf and returns the number of bytes
// written. The buffer must be large enough; transaction buffers are.
func (p *Packet) Marshal(buf []byte) (int, error) {
	length, err := p.wireLength()
	if err != nil {
		return 0, err
	}
	if len(buf) < length {
		return 0, fmt.Errorf("buffer of %d bytes cannot hold %d-byte packet", len(buf), length)
	}
	buf[0] = pmpVersion
	buf[1] = byte(p.Opcode)
	if p.Direction == DirectionResponse {
		buf[1] |= responseBit
		if p.ResultCode == nil {
			return 0, fmt.Errorf("response packet without result code")
		}
		binary.BigEndian.PutUint16(buf[2:4], uint16(*p.ResultCode))
	}
	switch {
	case p.Opcode == OpcodeGet && p.Direction == DirectionRequest:
		// Header only.
	case p.Opcode == OpcodeGet:
		binary.BigEndian.PutUint32(buf[4:8], p.Get.Epoch)
		ip := p.Get.ExternalIP.To4()
		if ip == nil {
			return 0, fmt.Errorf("get response needs an IPv4 external address")
		}
		copy(buf[8:12], ip)
	case p.Direction == DirectionRequest:
		binary.BigEndian.PutUint16(buf[2:4], 0) // reserved
		binary.BigEndian.PutUint16(buf[4:6], p.Map.InternalPort)
		binary.BigEndian.PutUint16(buf[6:8], p.Map.ExternalPort)
		binary.BigEndian.PutUint32(buf[8:12], p.Map.Lifetime)
	default:
		binary.BigEndian.PutUint32(buf[4:8], p.Map.Epoch)
		binary.BigEndian.PutUint16(buf[8:10], p.Map.InternalPort)
		binary.BigEndian.PutUint16(buf[10:12], p.Map.ExternalPort)
		binary.BigEndian.PutUint32(buf[12:16], p.Map.Lifetime)
	}
	return length, nil
}

func (p *Packet) wireLength() (int, error) {
	switch {
	case p.Opcode == OpcodeGet && p.Direction == DirectionRequest:
		return getRequestLength, nil
	case p.Opcode == OpcodeGet:
		if p.Get == nil {
			return 0, fmt.Errorf("get response without get payload")
		}
		return getResponseLength, nil
	case p.Opcode == OpcodeMapUDP || p.Opcode == OpcodeMapTCP:
		if p.Map == nil {
			return 0, fmt.Errorf("%v packet without map payload", p.Opcode)
		}
		if p.Direction == DirectionRequest {
			return mapRequestLength, nil
		}
		return mapResponseLength, nil
	default:
		return 0, fmt.Errorf("cannot marshal opcode %v", p.Opcode)
	}
}

// ParsePacket decodes raw bytes received from the network.
func ParsePacket(raw []byte) (*Packet, error) {
	if len(raw) < headerLength {
		return nil, &ParseError{Reason: ParseShortBuffer, Detail: fmt.Sprintf("%d bytes", len(raw))}
	}
	if raw[0] != pmpVersion {
		return nil, &ParseError{Reason: ParseWrongVersion, Detail: fmt.Sprintf("version %d", raw[0])}
	}
	p := &Packet{Opcode: Opcode(raw[1] &^ responseBit)}
	if raw[1]&responseBit != 0 {
		p.Direction = DirectionResponse
		if len(raw) < responseHeaderLength {
			return nil, &ParseError{Reason: ParseShortBuffer, Detail: fmt.Sprintf("%d bytes", len(raw))}
		}
		rc := ResultCode(binary.BigEndian.Uint16(raw[2:4]))
		p.ResultCode = &rc
	}
	switch p.Opcode {
	case OpcodeGet:
		if p.Direction == DirectionRequest {
			p.Get = &GetPayload{}
			return p, nil
		}
		if len(raw) < getResponseLength {
			return nil, &ParseError{Reason: ParseShortBuffer, Detail: fmt.Sprintf("%d bytes", len(raw))}
		}
		p.Get = &GetPayload{
			Epoch:      binary.BigEndian.Uint32(raw[4:8]),
			ExternalIP: net.IPv4(raw[8], raw[9], raw[10], raw[11]),
		}
	case OpcodeMapUDP, OpcodeMapTCP:
		if p.Direction == DirectionRequest {
			if len(raw) < mapRequestLength {
				return nil, &ParseError{Reason: ParseShortBuffer, Detail: fmt.Sprintf("%d bytes", len(raw))}
			}
			p.Map = &MapPayload{
				InternalPort: binary.BigEndian.Uint16(raw[4:6]),
				ExternalPort: binary.BigEndian.Uint16(raw[6:8]),
				Lifetime:     binary.BigEndian.Uint32(raw[8:12]),
			}
			return p, nil
		}
		if len(raw) < mapResponseLength {
			return nil, &ParseError{Reason: ParseShortBuffer, Detail: fmt.Sprintf("%d bytes", len(raw))}
		}
		p.Map = &MapPayload{
			Epoch:        binary.BigEndian.Uint32(raw[4:8]),
			InternalPort: binary.BigEndian.Uint16(raw[8:10]),
			ExternalPort: binary.BigEndian.Uint16(raw[10:12]),
			Lifetime:     binary.BigEndian.Uint32(raw[12:16]),
		}
	}
	return p, nil
}
