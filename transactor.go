// Package automap keeps an inbound port open on a home router, speaking
// NAT-PMP (with a UPnP-IGD alternative) to discover the public address,
// install time-limited mappings, and renew them before they expire.
package automap

import (
	"log/slog"
	"net"
	"sync"
	"time"
)

// MappingConfig records the mapping the caller most recently installed.
// It is established by the first successful AddMapping and snapshotted by
// the housekeeping worker when it starts.
type MappingConfig struct {
	HolePort uint16
	Lifetime uint32 // seconds
}

// AutomapChange is delivered to the observer while housekeeping runs.
// Either NewIP or Err is set, never both.
type AutomapChange struct {
	NewIP net.IP
	Err   *AutomapError
}

// ChangeHandler receives AutomapChange values, synchronously on the
// worker goroutine. Wrap it in a queue if the observer is slow.
type ChangeHandler func(AutomapChange)

// WorkerCommand is a control message for a running housekeeping worker.
type WorkerCommand interface {
	isWorkerCommand()
}

// StopWorker terminates the worker.
type StopWorker struct{}

// SetRemapInterval changes how often the worker refreshes the mapping.
type SetRemapInterval struct {
	Interval time.Duration
}

func (StopWorker) isWorkerCommand()       {}
func (SetRemapInterval) isWorkerCommand() {}

// Transactor is one port-mapping protocol: it can find routers, query
// the public address, manage mappings, and keep them alive in the
// background. PmpTransactor and IgdpTransactor implement it.
type Transactor interface {
	FindRouters() ([]net.IP, error)
	GetPublicIP(routerIP net.IP) (net.IP, error)
	// AddMapping opens TCP holePort for lifetime seconds and returns the
	// recommended renewal interval in seconds.
	AddMapping(routerIP net.IP, holePort uint16, lifetime uint32) (uint32, error)
	AddPermanentMapping(routerIP net.IP, holePort uint16) (uint32, error)
	DeleteMapping(routerIP net.IP, holePort uint16) error
	Protocol() string
	StartHousekeepingThread(handler ChangeHandler, routerIP net.IP) (chan<- WorkerCommand, error)
	StopHousekeepingThread()
}

// PmpTransactor speaks NAT-PMP to a router.
type PmpTransactor struct {
	mu            sync.Mutex
	adder         mappingAdder
	factories     *factories
	routerPort    uint16
	announcePort  uint16
	readTimeout   time.Duration
	mappingConfig *MappingConfig
	commander     chan WorkerCommand
	logger        *slog.Logger
}

// NewPmpTransactor returns a transactor wired to the real network.
func NewPmpTransactor() *PmpTransactor {
	return &PmpTransactor{
		adder:        &mappingAdderReal{},
		factories:    defaultFactories(),
		routerPort:   RouterPort,
		announcePort: AnnouncePort,
		readTimeout:  announceReadTimeout,
		logger:       slog.Default().With("protocol", "PMP"),
	}
}

// FindRouters returns candidate gateway addresses from the system
// routing table, falling back to the local-subnet heuristic.
func (t *PmpTransactor) FindRouters() ([]net.IP, error) {
	return findRouters()
}

// GetPublicIP asks the router for its external IPv4 address.
func (t *PmpTransactor) GetPublicIP(routerIP net.IP) (net.IP, error) {
	request := &Packet{
		Direction: DirectionRequest,
		Opcode:    OpcodeGet,
		Get:       &GetPayload{},
	}
	response, err := transact(t.factories, routerIP, t.routerPort, request)
	if err != nil {
		return nil, err
	}
	if response.ResultCode == nil {
		panic("transact allowed absent result code")
	}
	if rc := *response.ResultCode; rc != ResultSuccess {
		return nil, transactionFailure(rc)
	}
	if response.Get == nil || response.Get.ExternalIP == nil {
		panic("response parsing inoperative - external IP address")
	}
	return response.Get.ExternalIP, nil
}

// AddMapping opens TCP holePort on the router for lifetime seconds. On
// success the mapping configuration is stored for the housekeeping
// worker and the recommended renewal interval (half the granted
// lifetime, in seconds) is returned.
func (t *PmpTransactor) AddMapping(routerIP net.IP, holePort uint16, lifetime uint32) (uint32, error) {
	routerAddr := &net.UDPAddr{IP: routerIP, Port: int(t.routerPort)}
	interval, err := t.adder.addMapping(t.factories, routerAddr, holePort, lifetime)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.mappingConfig = &MappingConfig{HolePort: holePort, Lifetime: lifetime}
	t.mu.Unlock()
	return interval, nil
}

// AddPermanentMapping always fails: the protocol has no permanent
// mappings, and asking for one is a programming error.
func (t *PmpTransactor) AddPermanentMapping(net.IP, uint16) (uint32, error) {
	return 0, &AutomapError{Kind: KindPermanentMapping, Detail: "PMP cannot add permanent mappings"}
}

// DeleteMapping removes the forwarding rule for holePort. On the wire a
// deletion is a mapping with lifetime zero.
func (t *PmpTransactor) DeleteMapping(routerIP net.IP, holePort uint16) error {
	_, err := t.AddMapping(routerIP, holePort, 0)
	return err
}

// Protocol identifies this transactor.
func (t *PmpTransactor) Protocol() string {
	return "PMP"
}

// StartHousekeepingThread launches the background worker that listens
// for router announcements, renews the mapping, and reports changes to
// handler. A mapping must already be installed. The returned channel
// accepts StopWorker and SetRemapInterval commands.
func (t *PmpTransactor) StartHousekeepingThread(handler ChangeHandler, routerIP net.IP) (chan<- WorkerCommand, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.commander != nil {
		return nil, &AutomapError{Kind: KindChangeHandlerAlreadyRunning}
	}
	if t.mappingConfig == nil {
		return nil, &AutomapError{Kind: KindChangeHandlerUnconfigured}
	}
	announceAddr := &net.UDPAddr{IP: multicastGroup, Port: int(t.announcePort)}
	socket, err := t.factories.socket.Make(announceAddr)
	if err != nil {
		return nil, socketBindingError(announceAddr.String(), err)
	}
	commands := make(chan WorkerCommand, 16)
	t.commander = commands
	w := &worker{
		socket:      socket,
		commands:    commands,
		adder:       t.adder,
		factories:   t.factories,
		routerAddr:  &net.UDPAddr{IP: routerIP, Port: int(t.routerPort)},
		handler:     handler,
		config:      *t.mappingConfig,
		readTimeout: t.readTimeout,
		logger:      t.logger,
	}
	go w.run()
	return commands, nil
}

// StopHousekeepingThread asks a running worker to stop. It is idempotent
// and never blocks; termination is observed through resource release.
func (t *PmpTransactor) StopHousekeepingThread() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.commander == nil {
		return
	}
	select {
	case t.commander <- StopWorker{}:
	default:
	}
	t.commander = nil
}

// mappingConfigSnapshot is a test seam for observing stored state.
func (t *PmpTransactor) mappingConfigSnapshot() *MappingConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mappingConfig == nil {
		return nil
	}
	cfg := *t.mappingConfig
	return &cfg
}
