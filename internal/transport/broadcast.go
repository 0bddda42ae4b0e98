package transport

import (
	"net"
	"net/netip"
)

var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// BroadcastAddr returns the directed broadcast address of the first
// non-loopback IPv4 interface that is up, or 255.255.255.255 when there
// is none.
func BroadcastAddr() netip.Addr {
	ifaces, err := net.Interfaces()
	if err != nil {
		return limitedBroadcast
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if b, ok := broadcastOf(ipnet); ok {
				return b
			}
		}
	}
	return limitedBroadcast
}

func broadcastOf(ipnet *net.IPNet) (netip.Addr, bool) {
	ip4 := ipnet.IP.To4()
	if ip4 == nil || ip4.IsLoopback() {
		return netip.Addr{}, false
	}
	mask := ipnet.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return netip.Addr{}, false
	}

	var out [4]byte
	for i := range out {
		out[i] = ip4[i] | ^mask[i]
	}
	return netip.AddrFrom4(out), true
}
