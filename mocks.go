package automap

import (
	"net"
	"sync"
	"time"
)

// Scripted test doubles for the OS-interaction seams. Results are queued
// up front and consumed in order; recorded parameters let tests assert
// exactly what went over the wire.

// timeoutError mimics the error a UDP read deadline produces.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

type sendToCall struct {
	data []byte
	addr *net.UDPAddr
}

type sendToResult struct {
	n   int
	err error
}

type recvFromResult struct {
	data []byte
	addr *net.UDPAddr
	err  error
}

// udpSocketMock is a scripted udpSocket. An exhausted receive queue
// behaves like a silent network: it sleeps the configured read timeout
// and reports a timeout error.
type udpSocketMock struct {
	mu                   sync.Mutex
	readTimeout          time.Duration
	setReadTimeoutParams []time.Duration
	sendToParams         []sendToCall
	sendToResults        []sendToResult
	recvFromResults      []recvFromResult
	closed               bool
}

func newUDPSocketMock() *udpSocketMock {
	return &udpSocketMock{}
}

func (m *udpSocketMock) queueSendToResult(n int, err error) *udpSocketMock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendToResults = append(m.sendToResults, sendToResult{n: n, err: err})
	return m
}

func (m *udpSocketMock) queueRecvFromResult(data []byte, addr *net.UDPAddr, err error) *udpSocketMock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recvFromResults = append(m.recvFromResults, recvFromResult{data: data, addr: addr, err: err})
	return m
}

func (m *udpSocketMock) SetReadTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = d
	m.setReadTimeoutParams = append(m.setReadTimeoutParams, d)
	return nil
}

func (m *udpSocketMock) SendTo(p []byte, addr *net.UDPAddr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := make([]byte, len(p))
	copy(data, p)
	m.sendToParams = append(m.sendToParams, sendToCall{data: data, addr: addr})
	if len(m.sendToResults) == 0 {
		return len(p), nil
	}
	result := m.sendToResults[0]
	m.sendToResults = m.sendToResults[1:]
	return result.n, result.err
}

func (m *udpSocketMock) RecvFrom(p []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	if len(m.recvFromResults) == 0 {
		timeout := m.readTimeout
		m.mu.Unlock()
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return 0, nil, timeoutError{}
	}
	result := m.recvFromResults[0]
	m.recvFromResults = m.recvFromResults[1:]
	m.mu.Unlock()
	if result.err != nil {
		return 0, result.addr, result.err
	}
	n := copy(p, result.data)
	return n, result.addr, nil
}

func (m *udpSocketMock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *udpSocketMock) sentDatagrams() []sendToCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sendToCall, len(m.sendToParams))
	copy(out, m.sendToParams)
	return out
}

func (m *udpSocketMock) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type makeResult struct {
	socket udpSocket
	err    error
}

// udpSocketFactoryMock hands out scripted sockets in order.
type udpSocketFactoryMock struct {
	mu          sync.Mutex
	makeParams  []*net.UDPAddr
	makeResults []makeResult
}

func newUDPSocketFactoryMock() *udpSocketFactoryMock {
	return &udpSocketFactoryMock{}
}

func (f *udpSocketFactoryMock) queueMakeResult(socket udpSocket, err error) *udpSocketFactoryMock {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makeResults = append(f.makeResults, makeResult{socket: socket, err: err})
	return f
}

func (f *udpSocketFactoryMock) Make(addr *net.UDPAddr) (udpSocket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makeParams = append(f.makeParams, addr)
	if len(f.makeResults) == 0 {
		panic("udpSocketFactoryMock: no make results queued")
	}
	result := f.makeResults[0]
	f.makeResults = f.makeResults[1:]
	return result.socket, result.err
}

func (f *udpSocketFactoryMock) madeAddrs() []*net.UDPAddr {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*net.UDPAddr, len(f.makeParams))
	copy(out, f.makeParams)
	return out
}

// freePortFactoryMock returns a fixed ephemeral port.
type freePortFactoryMock struct {
	port uint16
}

func newFreePortFactoryMock(port uint16) *freePortFactoryMock {
	return &freePortFactoryMock{port: port}
}

func (f *freePortFactoryMock) Make() uint16 {
	return f.port
}

type addMappingCall struct {
	routerAddr *net.UDPAddr
	holePort   uint16
	lifetime   uint32
}

type addMappingResult struct {
	interval uint32
	err      error
}

// mappingAdderMock scripts the mapping operation for worker tests.
type mappingAdderMock struct {
	mu                sync.Mutex
	addMappingParams  []addMappingCall
	addMappingResults []addMappingResult
}

func newMappingAdderMock() *mappingAdderMock {
	return &mappingAdderMock{}
}

func (m *mappingAdderMock) queueAddMappingResult(interval uint32, err error) *mappingAdderMock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addMappingResults = append(m.addMappingResults, addMappingResult{interval: interval, err: err})
	return m
}

func (m *mappingAdderMock) addMapping(_ *factories, routerAddr *net.UDPAddr, holePort uint16, lifetime uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addMappingParams = append(m.addMappingParams, addMappingCall{
		routerAddr: routerAddr,
		holePort:   holePort,
		lifetime:   lifetime,
	})
	if len(m.addMappingResults) == 0 {
		return 0, nil
	}
	result := m.addMappingResults[0]
	m.addMappingResults = m.addMappingResults[1:]
	return result.interval, result.err
}

func (m *mappingAdderMock) addMappingCalls() []addMappingCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]addMappingCall, len(m.addMappingParams))
	copy(out, m.addMappingParams)
	return out
}

type addPortMappingCall struct {
	remoteHost     string
	externalPort   uint16
	protocol       string
	internalPort   uint16
	internalClient string
	enabled        bool
	description    string
	leaseDuration  uint32
}

type externalIPResult struct {
	ip  string
	err error
}

// upnpClientMock scripts the IGD operations. A result queue is sticky:
// its last entry keeps answering once the queue is exhausted, so a
// polling worker sees a stable router.
type upnpClientMock struct {
	mu                      sync.Mutex
	addPortMappingParams    []addPortMappingCall
	addPortMappingResults   []error
	deletePortMappingParams []uint16
	deletePortMappingResult error
	externalIPResults       []externalIPResult
}

func newUpnpClientMock() *upnpClientMock {
	return &upnpClientMock{}
}

func (m *upnpClientMock) queueAddPortMappingResult(err error) *upnpClientMock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addPortMappingResults = append(m.addPortMappingResults, err)
	return m
}

func (m *upnpClientMock) queueExternalIPResult(ip string, err error) *upnpClientMock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.externalIPResults = append(m.externalIPResults, externalIPResult{ip: ip, err: err})
	return m
}

func (m *upnpClientMock) AddPortMapping(remoteHost string, externalPort uint16, protocol string,
	internalPort uint16, internalClient string, enabled bool, description string, leaseDuration uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addPortMappingParams = append(m.addPortMappingParams, addPortMappingCall{
		remoteHost:     remoteHost,
		externalPort:   externalPort,
		protocol:       protocol,
		internalPort:   internalPort,
		internalClient: internalClient,
		enabled:        enabled,
		description:    description,
		leaseDuration:  leaseDuration,
	})
	if len(m.addPortMappingResults) == 0 {
		return nil
	}
	result := m.addPortMappingResults[0]
	if len(m.addPortMappingResults) > 1 {
		m.addPortMappingResults = m.addPortMappingResults[1:]
	}
	return result
}

func (m *upnpClientMock) DeletePortMapping(_ string, externalPort uint16, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletePortMappingParams = append(m.deletePortMappingParams, externalPort)
	return m.deletePortMappingResult
}

func (m *upnpClientMock) GetExternalIPAddress() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.externalIPResults) == 0 {
		return "", nil
	}
	result := m.externalIPResults[0]
	if len(m.externalIPResults) > 1 {
		m.externalIPResults = m.externalIPResults[1:]
	}
	return result.ip, result.err
}

func (m *upnpClientMock) addPortMappingCalls() []addPortMappingCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]addPortMappingCall, len(m.addPortMappingParams))
	copy(out, m.addPortMappingParams)
	return out
}

func (m *upnpClientMock) deletedPorts() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint16, len(m.deletePortMappingParams))
	copy(out, m.deletePortMappingParams)
	return out
}

// transactorMock is a canned Transactor for listener tests.
type transactorMock struct {
	mu           sync.Mutex
	stopCalls    int
	deletedPorts []uint16
	handler      ChangeHandler
}

func newTransactorMock() *transactorMock {
	return &transactorMock{}
}

func (m *transactorMock) FindRouters() ([]net.IP, error) {
	return []net.IP{net.IPv4(10, 0, 0, 1)}, nil
}

func (m *transactorMock) GetPublicIP(net.IP) (net.IP, error) {
	return net.IPv4(203, 0, 113, 100), nil
}

func (m *transactorMock) AddMapping(_ net.IP, _ uint16, lifetime uint32) (uint32, error) {
	return lifetime / 2, nil
}

func (m *transactorMock) AddPermanentMapping(net.IP, uint16) (uint32, error) {
	return 0, &AutomapError{Kind: KindPermanentMapping, Detail: "PMP cannot add permanent mappings"}
}

func (m *transactorMock) DeleteMapping(_ net.IP, holePort uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedPorts = append(m.deletedPorts, holePort)
	return nil
}

func (m *transactorMock) Protocol() string {
	return "PMP"
}

func (m *transactorMock) StartHousekeepingThread(handler ChangeHandler, _ net.IP) (chan<- WorkerCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
	return make(chan WorkerCommand, 16), nil
}

func (m *transactorMock) StopHousekeepingThread() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
}

func (m *transactorMock) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls
}

func (m *transactorMock) deleted() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint16, len(m.deletedPorts))
	copy(out, m.deletedPorts)
	return out
}

var _ Transactor = (*transactorMock)(nil)
