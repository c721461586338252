// Package natutil performs best-effort external-address discovery, the
// same job the teacher's devp2p stack gives to p2p/nat: ask whatever
// gateway is on the LAN what address it is NATing this host behind.
// cmd/signum-node uses it to fill in p2p.my_address when the operator
// left it unset.
package natutil

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// DiscoveryTimeout bounds how long Discover spends probing the LAN
// before giving up and letting the caller fall back to an empty
// my_address (announced_address substitution then takes over per
// §4.B/§12.2).
const DiscoveryTimeout = 3 * time.Second

// Discover tries UPnP first, then NAT-PMP, returning the first external
// IP either reports. A failure of both is not fatal to startup; the
// caller logs and proceeds with my_address empty.
func Discover(ctx context.Context) (net.IP, error) {
	ctx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()

	if ip, err := discoverUPnP(ctx); err == nil {
		return ip, nil
	}
	if ip, err := discoverPMP(); err == nil {
		return ip, nil
	}
	return nil, fmt.Errorf("natutil: no UPnP or NAT-PMP gateway answered")
}

// upnpClient is the subset of the generated IGDv1/IGDv2 WAN connection
// clients this package needs.
type upnpClient interface {
	GetExternalIPAddress() (string, error)
}

// discoverUPnP probes for IGDv2 devices, then IGDv1, the same fallback
// order celo-blockchain's p2p/nat/natupnp.go uses. goupnp.DiscoverDevices
// (v1.0.2) has no context-aware variant, so the search runs in a
// goroutine and is abandoned (not awaited) if ctx expires first.
func discoverUPnP(ctx context.Context) (net.IP, error) {
	type result struct {
		ip  net.IP
		err error
	}
	done := make(chan result, 1)

	go func() {
		for _, target := range []string{
			internetgateway2.URN_WANConnectionDevice_2,
			internetgateway1.URN_WANConnectionDevice_1,
		} {
			devs, err := goupnp.DiscoverDevices(target)
			if err != nil {
				continue
			}
			for _, dev := range devs {
				if dev.Err != nil || dev.Root == nil {
					continue
				}
				for _, client := range wanIPClients(dev.Location) {
					ip, err := client.GetExternalIPAddress()
					if err != nil {
						continue
					}
					if parsed := net.ParseIP(ip); parsed != nil {
						done <- result{ip: parsed}
						return
					}
				}
			}
		}
		done <- result{err: fmt.Errorf("natutil: no UPnP gateway exposed an external IP")}
	}()

	select {
	case r := <-done:
		return r.ip, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// wanIPClients builds every WAN IP connection client loc's device
// exposes, across both IGD generations. NewWANIPConnection1ClientsByURL
// takes the device's location URL alone; it does not take a base URL.
func wanIPClients(loc *url.URL) []upnpClient {
	var clients []upnpClient
	if cs, err := internetgateway2.NewWANIPConnection1ClientsByURL(loc); err == nil {
		for _, c := range cs {
			clients = append(clients, c)
		}
	}
	if cs, err := internetgateway2.NewWANIPConnection2ClientsByURL(loc); err == nil {
		for _, c := range cs {
			clients = append(clients, c)
		}
	}
	if cs, err := internetgateway1.NewWANIPConnection1ClientsByURL(loc); err == nil {
		for _, c := range cs {
			clients = append(clients, c)
		}
	}
	return clients
}

func discoverPMP() (net.IP, error) {
	gw, err := defaultGateway()
	if err != nil {
		return nil, err
	}
	client := natpmp.NewClient(gw)
	resp, err := client.GetExternalAddress()
	if err != nil {
		return nil, fmt.Errorf("natutil: nat-pmp: %w", err)
	}
	ip := net.IP(resp.ExternalIPAddress[:])
	return ip, nil
}

// defaultGateway guesses the LAN gateway by assuming it sits at .1 of
// this host's preferred outbound interface, the same heuristic geth's
// nat-pmp fallback relies on in the absence of a routing-table API in
// the standard library.
func defaultGateway() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, fmt.Errorf("natutil: determining local interface: %w", err)
	}
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("natutil: unexpected local address type")
	}
	ip4 := local.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("natutil: no IPv4 local address")
	}
	gw := net.IPv4(ip4[0], ip4[1], ip4[2], 1)
	return gw, nil
}
