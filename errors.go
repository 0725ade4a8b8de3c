package automap

import "fmt"

// ErrorKind classifies every failure the mapping client can produce.
type ErrorKind int

const (
	// KindSocketBinding means a local UDP endpoint could not be bound.
	KindSocketBinding ErrorKind = iota
	// KindSocketSend means a datagram send failed.
	KindSocketSend
	// KindSocketReceive means a receive failed for a non-timeout reason.
	KindSocketReceive
	// KindProtocol covers malformed or unexpected packets at this layer,
	// including the 3-second transaction timeout.
	KindProtocol
	// KindPacketParse means the codec rejected the bytes.
	KindPacketParse
	// KindTransactionFailure means the router answered a Get with a
	// non-Success result code.
	KindTransactionFailure
	// KindTemporaryMapping means the router refused a mapping for a
	// reason that may clear; retry later.
	KindTemporaryMapping
	// KindPermanentMapping means the router refused a mapping for good.
	KindPermanentMapping
	// KindChangeHandlerAlreadyRunning means housekeeping was started twice.
	KindChangeHandlerAlreadyRunning
	// KindChangeHandlerUnconfigured means housekeeping was started before
	// any mapping was installed.
	KindChangeHandlerUnconfigured
)

func (k ErrorKind) String() string {
	switch k {
	case KindSocketBinding:
		return "SocketBindingError"
	case KindSocketSend:
		return "SocketSendError"
	case KindSocketReceive:
		return "SocketReceiveError"
	case KindProtocol:
		return "ProtocolError"
	case KindPacketParse:
		return "PacketParseError"
	case KindTransactionFailure:
		return "TransactionFailure"
	case KindTemporaryMapping:
		return "TemporaryMappingError"
	case KindPermanentMapping:
		return "PermanentMappingError"
	case KindChangeHandlerAlreadyRunning:
		return "ChangeHandlerAlreadyRunning"
	case KindChangeHandlerUnconfigured:
		return "ChangeHandlerUnconfigured"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ErrorCause is the coarse category an observer sees for socket-level
// failures; the raw OS error stays in the logs.
type ErrorCause int

const (
	CauseUnknown ErrorCause = iota
	CauseSocketFailure
)

func (c ErrorCause) String() string {
	switch c {
	case CauseSocketFailure:
		return "SocketFailure"
	default:
		return "Unknown"
	}
}

// AutomapError is the typed failure returned by every operation. Detail
// carries the message, result-code name, or OS error text; Addr is the
// bind address for KindSocketBinding.
type AutomapError struct {
	Kind   ErrorKind
	Cause  ErrorCause
	Detail string
	Addr   string
}

func (e *AutomapError) Error() string {
	switch e.Kind {
	case KindSocketBinding:
		return fmt.Sprintf("%v at %s: %s", e.Kind, e.Addr, e.Detail)
	case KindSocketSend, KindSocketReceive:
		if e.Cause == CauseSocketFailure {
			return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
		}
		return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
	case KindChangeHandlerAlreadyRunning, KindChangeHandlerUnconfigured:
		return e.Kind.String()
	default:
		return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
	}
}

// IsPermanent reports whether retrying the failed operation is pointless.
func (e *AutomapError) IsPermanent() bool {
	switch e.Kind {
	case KindPermanentMapping, KindChangeHandlerAlreadyRunning, KindChangeHandlerUnconfigured:
		return true
	default:
		return false
	}
}

func socketBindingError(addr string, cause error) *AutomapError {
	return &AutomapError{Kind: KindSocketBinding, Addr: addr, Detail: cause.Error()}
}

func socketSendError(cause error) *AutomapError {
	return &AutomapError{Kind: KindSocketSend, Detail: cause.Error()}
}

func socketReceiveError(cause error) *AutomapError {
	return &AutomapError{Kind: KindSocketReceive, Detail: cause.Error()}
}

func protocolError(format string, args ...any) *AutomapError {
	return &AutomapError{Kind: KindProtocol, Detail: fmt.Sprintf(format, args...)}
}

func packetParseError(cause error) *AutomapError {
	return &AutomapError{Kind: KindPacketParse, Detail: cause.Error()}
}

func transactionFailure(rc ResultCode) *AutomapError {
	return &AutomapError{Kind: KindTransactionFailure, Detail: rc.String()}
}

// mappingError classifies a non-Success MAP result code.
func mappingError(rc ResultCode, detail string) *AutomapError {
	kind := KindTemporaryMapping
	if rc.IsPermanent() {
		kind = KindPermanentMapping
	}
	return &AutomapError{Kind: kind, Detail: detail}
}
