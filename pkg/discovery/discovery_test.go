package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted replaces the network browse with a fixed sequence of entries.
func scripted(entries ...*zeroconf.ServiceEntry) browseFunc {
	return func(ctx context.Context, out, _ chan *zeroconf.ServiceEntry) error {
		for _, e := range entries {
			select {
			case out <- e:
			case <-ctx.Done():
				return nil
			}
		}
		<-ctx.Done()
		return nil
	}
}

func entry(instance string, port int, v4 ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: ServiceType, Domain: Domain},
		HostName:      instance + ".local.",
		Port:          port,
	}
	for _, a := range v4 {
		e.AddrIPv4 = append(e.AddrIPv4, net.ParseIP(a))
	}
	return e
}

func TestResolveFirstUsable(t *testing.T) {
	b := NewBrowser(BrowserConfig{Timeout: time.Second})
	b.browse = scripted(
		entry("broken", 0, "10.0.0.9"),
		entry("lobby", 3001, "192.168.1.20"),
	)

	ep, err := b.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "lobby", ep.Instance)
	assert.Equal(t, 3001, ep.Port)
	assert.Equal(t, "192.168.1.20", ep.Address())
	assert.Equal(t, "lobby@192.168.1.20:3001", ep.String())
}

func TestResolveInstanceFilter(t *testing.T) {
	b := NewBrowser(BrowserConfig{Timeout: time.Second, Instance: "gate"})
	b.browse = scripted(
		entry("lobby", 3001, "192.168.1.20"),
		entry("gate", 3002, "192.168.1.21"),
	)

	ep, err := b.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gate", ep.Instance)
}

func TestResolveTimeout(t *testing.T) {
	b := NewBrowser(BrowserConfig{Timeout: 20 * time.Millisecond})
	b.browse = scripted()

	_, err := b.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveBrowseError(t *testing.T) {
	b := NewBrowser(BrowserConfig{Timeout: time.Second})
	b.browse = func(context.Context, chan *zeroconf.ServiceEntry, chan *zeroconf.ServiceEntry) error {
		return errors.New("no multicast interface")
	}

	_, err := b.Resolve(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestEndpointFallsBackToHostName(t *testing.T) {
	b := NewBrowser(BrowserConfig{})
	e := entry("lobby", 3001)
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	ep, ok := b.endpoint(e)
	require.True(t, ok)
	assert.Empty(t, ep.Addrs, "link-local v6 is skipped")
	assert.Equal(t, "lobby.local.", ep.Address())
}

func TestAdvertiseRejectsBadPort(t *testing.T) {
	a := NewAdvertiser(AdvertiserConfig{})
	assert.ErrorIs(t, a.Advertise("lobby", 0), ErrInvalidPort)
	assert.ErrorIs(t, a.Advertise("lobby", 70000), ErrInvalidPort)
	assert.False(t, a.Advertising())
}

func TestAdvertiseAndStop(t *testing.T) {
	a := NewAdvertiser(AdvertiserConfig{})
	if err := a.Advertise("panel-test", 3001, "v=1"); err != nil {
		t.Skipf("mDNS unavailable: %v", err)
	}
	assert.True(t, a.Advertising())
	a.Stop()
	assert.False(t, a.Advertising())
	a.Stop()
}
