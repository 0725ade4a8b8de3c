package automap

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway2"
)

// upnpClient is the slice of UPnP IGD operations this transactor needs.
// WANIPConnection1, WANIPConnection2, and WANPPPConnection1 all satisfy it.
type upnpClient interface {
	AddPortMapping(
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
		NewInternalPort uint16,
		NewInternalClient string,
		NewEnabled bool,
		NewPortMappingDescription string,
		NewLeaseDuration uint32,
	) error
	DeletePortMapping(
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
	) error
	GetExternalIPAddress() (string, error)
}

// IgdpTransactor implements Transactor over UPnP IGD for routers that do
// not speak NAT-PMP. IGDP has no multicast announcement channel, so its
// housekeeping worker polls the external address instead of listening.
type IgdpTransactor struct {
	mu            sync.Mutex
	client        upnpClient
	localIP       func() (string, error)
	mappingConfig *MappingConfig
	commander     chan WorkerCommand
	publicIP      net.IP
	logger        *slog.Logger
}

// NewIgdpTransactor discovers an IGD on the local network and returns a
// transactor bound to it. Discovery tries WANIPConnection2, then
// WANIPConnection1, then WANPPPConnection1, taking the first service
// that answers.
func NewIgdpTransactor(ctx context.Context) (*IgdpTransactor, error) {
	client, err := discoverIgdClient(ctx)
	if err != nil {
		return nil, err
	}
	return newIgdpTransactor(client), nil
}

func newIgdpTransactor(client upnpClient) *IgdpTransactor {
	return &IgdpTransactor{
		client:  client,
		localIP: func() (string, error) { return localAddressToward("8.8.8.8:80") },
		logger:  slog.Default().With("protocol", "IGDP"),
	}
}

func discoverIgdClient(ctx context.Context) (upnpClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if clients, _, err := internetgateway2.NewWANIPConnection2ClientsCtx(ctx); err == nil && len(clients) > 0 {
		return clients[0], nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if clients, _, err := internetgateway2.NewWANIPConnection1ClientsCtx(ctx); err == nil && len(clients) > 0 {
		return clients[0], nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if clients, _, err := internetgateway2.NewWANPPPConnection1ClientsCtx(ctx); err == nil && len(clients) > 0 {
		return clients[0], nil
	}
	return nil, fmt.Errorf("no UPnP IGD devices found (tried WANIPConnection2, WANIPConnection1, WANPPPConnection1)")
}

// FindRouters consults the system routing table, same as PMP; the IGD
// answering SSDP discovery is the gateway in any network this library
// targets.
func (t *IgdpTransactor) FindRouters() ([]net.IP, error) {
	return findRouters()
}

// GetPublicIP asks the IGD for its external address. The router IP is
// ignored; the discovered service is already bound.
func (t *IgdpTransactor) GetPublicIP(net.IP) (net.IP, error) {
	raw, err := t.client.GetExternalIPAddress()
	if err != nil {
		return nil, protocolError("external IP lookup failed: %v", err)
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return nil, protocolError("router returned unparseable external IP %q", raw)
	}
	return ip, nil
}

// AddMapping opens TCP holePort for lifetime seconds and stores the
// mapping configuration for housekeeping. IGDP reports no granted
// lifetime of its own, so the renewal recommendation is half the
// requested lifetime.
func (t *IgdpTransactor) AddMapping(_ net.IP, holePort uint16, lifetime uint32) (uint32, error) {
	if err := t.addPortMapping(holePort, lifetime); err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.mappingConfig = &MappingConfig{HolePort: holePort, Lifetime: lifetime}
	t.mu.Unlock()
	return lifetime / 2, nil
}

// AddPermanentMapping opens TCP holePort with an unlimited lease, which
// IGDP supports natively. No renewal is required; the returned interval
// is zero.
func (t *IgdpTransactor) AddPermanentMapping(_ net.IP, holePort uint16) (uint32, error) {
	if err := t.addPortMapping(holePort, 0); err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.mappingConfig = &MappingConfig{HolePort: holePort, Lifetime: 0}
	t.mu.Unlock()
	return 0, nil
}

func (t *IgdpTransactor) addPortMapping(holePort uint16, lifetime uint32) error {
	localIP, err := t.localIP()
	if err != nil {
		return protocolError("failed to find local IP: %v", err)
	}
	err = t.client.AddPortMapping("", holePort, "TCP", holePort, localIP, true, "go-automap", lifetime)
	if err != nil {
		// IGDs give no machine-readable transient/permanent split, so
		// every refusal is treated as retryable.
		return &AutomapError{Kind: KindTemporaryMapping, Detail: err.Error()}
	}
	return nil
}

// DeleteMapping removes the forwarding rule for holePort.
func (t *IgdpTransactor) DeleteMapping(_ net.IP, holePort uint16) error {
	if err := t.client.DeletePortMapping("", holePort, "TCP"); err != nil {
		return &AutomapError{Kind: KindTemporaryMapping, Detail: err.Error()}
	}
	return nil
}

// Protocol identifies this transactor.
func (t *IgdpTransactor) Protocol() string {
	return "IGDP"
}

// StartHousekeepingThread launches a goroutine that periodically renews
// the mapping and polls the external address, delivering NewIP when it
// changes. The same preconditions and commands as PMP apply.
func (t *IgdpTransactor) StartHousekeepingThread(handler ChangeHandler, routerIP net.IP) (chan<- WorkerCommand, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.commander != nil {
		return nil, &AutomapError{Kind: KindChangeHandlerAlreadyRunning}
	}
	if t.mappingConfig == nil {
		return nil, &AutomapError{Kind: KindChangeHandlerUnconfigured}
	}
	commands := make(chan WorkerCommand, 16)
	t.commander = commands
	config := *t.mappingConfig
	go t.housekeep(commands, handler, config)
	return commands, nil
}

// StopHousekeepingThread asks a running worker to stop; idempotent.
func (t *IgdpTransactor) StopHousekeepingThread() {
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

func (t *IgdpTransactor) housekeep(commands <-chan WorkerCommand, handler ChangeHandler, config MappingConfig) {
	remapInterval := time.Duration(config.Lifetime) * time.Second
	if remapInterval <= 0 {
		remapInterval = time.Duration(defaultLeaseSeconds) * time.Second
	}
	timer := time.NewTimer(remapInterval)
	defer timer.Stop()
	for {
		select {
		case command := <-commands:
			switch c := command.(type) {
			case StopWorker:
				return
			case SetRemapInterval:
				remapInterval = c.Interval
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(remapInterval)
			}
		case <-timer.C:
			t.refresh(handler, config)
			timer.Reset(remapInterval)
		}
	}
}

// refresh re-adds the mapping and checks whether the public address
// moved since the last cycle.
func (t *IgdpTransactor) refresh(handler ChangeHandler, config MappingConfig) {
	lifetime := config.Lifetime
	if lifetime < 1 {
		lifetime = 1
	}
	t.logger.Info("remapping port", "port", config.HolePort)
	if err := t.addPortMapping(config.HolePort, lifetime); err != nil {
		aerr := err.(*AutomapError)
		t.logger.Error("remapping failure", "error", aerr)
		handler(AutomapChange{Err: aerr})
		return
	}
	current, err := t.GetPublicIP(nil)
	if err != nil {
		t.logger.Error("external IP poll failure", "error", err)
		return
	}
	t.mu.Lock()
	changed := t.publicIP != nil && !t.publicIP.Equal(current)
	t.publicIP = current
	t.mu.Unlock()
	if changed {
		handler(AutomapChange{NewIP: current})
	}
}

// localAddressToward reports the local IP the kernel would use to reach
// target; no packet is sent.
func localAddressToward(target string) (string, error) {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address type: %T", conn.LocalAddr())
	}
	return localAddr.IP.String(), nil
}
