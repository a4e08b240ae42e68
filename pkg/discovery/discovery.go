// Package discovery locates the call server on the local network with
// mDNS/DNS-SD and lets the development server advertise itself.
//
// The call server registers as "_intercom._tcp" in the "local." domain.
// A panel configured for discovery browses for that service type and
// connects to the first instance that answers.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/enbility/zeroconf/v3"
)

const (
	// ServiceType is the DNS-SD service type of the call server.
	ServiceType = "_intercom._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultBrowseTimeout bounds Resolve when ctx has no deadline.
	DefaultBrowseTimeout = 5 * time.Second
)

// ErrNotFound is returned when no server answered before the timeout.
var ErrNotFound = errors.New("discovery: no call server found")

// Endpoint is a resolved call server.
type Endpoint struct {
	Instance string
	Host     string
	Port     int
	Addrs    []string
	Text     []string
}

// Address returns the preferred address to dial (IPv4 first).
func (e Endpoint) Address() string {
	if len(e.Addrs) > 0 {
		return e.Addrs[0]
	}
	return e.Host
}

// String returns "instance@address:port".
func (e Endpoint) String() string {
	return fmt.Sprintf("%s@%s", e.Instance, net.JoinHostPort(e.Address(), fmt.Sprint(e.Port)))
}

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	// Timeout bounds Resolve when ctx has no deadline.
	Timeout time.Duration

	// Interface restricts browsing to one network interface.
	Interface string

	// Instance, if set, only accepts that instance name.
	Instance string

	Logger *slog.Logger
}

type browseFunc func(ctx context.Context, entries, removed chan *zeroconf.ServiceEntry) error

// Browser resolves the call server.
type Browser struct {
	config BrowserConfig
	logger *slog.Logger
	browse browseFunc
}

// NewBrowser creates a Browser.
func NewBrowser(config BrowserConfig) *Browser {
	if config.Timeout <= 0 {
		config.Timeout = DefaultBrowseTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	b := &Browser{config: config, logger: config.Logger}
	b.browse = func(ctx context.Context, entries, removed chan *zeroconf.ServiceEntry) error {
		return zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.options()...)
	}
	return b
}

// Resolve browses until the first usable server answers.
func (b *Browser) Resolve(ctx context.Context) (Endpoint, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- b.browse(ctx, entries, removed)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return Endpoint{}, ErrNotFound
			}
			ep, ok := b.endpoint(entry)
			if !ok {
				continue
			}
			b.logger.Info("call server discovered", "endpoint", ep.String())
			return ep, nil
		case _, ok := <-removed:
			if !ok {
				removed = nil
			}
		case err := <-browseErr:
			if err != nil {
				return Endpoint{}, fmt.Errorf("discovery: browse: %w", err)
			}
			browseErr = nil
		case <-ctx.Done():
			return Endpoint{}, ErrNotFound
		}
	}
}

func (b *Browser) endpoint(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	if entry == nil || entry.Port <= 0 {
		return Endpoint{}, false
	}
	if b.config.Instance != "" && entry.Instance != b.config.Instance {
		return Endpoint{}, false
	}
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		// Link-local v6 needs a zone to dial.
		if p := net.ParseIP(ip.String()); p == nil || p.IsLinkLocalUnicast() {
			continue
		}
		addrs = append(addrs, ip.String())
	}
	if len(addrs) == 0 && entry.HostName == "" {
		return Endpoint{}, false
	}
	return Endpoint{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
		Addrs:    addrs,
		Text:     entry.Text,
	}, true
}

func (b *Browser) options() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if iface := lookupInterface(b.config.Interface); iface != nil {
		opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
	}
	return opts
}

func lookupInterface(name string) *net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return iface
}
