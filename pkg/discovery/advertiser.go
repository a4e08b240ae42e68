package discovery

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// ErrInvalidPort is returned by Advertise for a port outside 1..65535.
var ErrInvalidPort = errors.New("discovery: invalid port")

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface.
	Interface string

	// TTL overrides the record TTL.
	TTL time.Duration
}

// Advertiser registers the call server with mDNS.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an idle Advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	return &Advertiser{config: config}
}

// Advertise registers instance on port, replacing a previous registration.
func (a *Advertiser) Advertise(instance string, port int, txt ...string) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}
	var ifaces []net.Interface
	if iface := lookupInterface(a.config.Interface); iface != nil {
		ifaces = []net.Interface{*iface}
	}

	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, ifaces, opts...)
	if err != nil {
		return fmt.Errorf("failed to register call server: %w", err)
	}
	a.server = server
	return nil
}

// Advertising reports whether a registration is active.
func (a *Advertiser) Advertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Stop withdraws the registration.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
