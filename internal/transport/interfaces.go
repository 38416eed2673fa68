package transport

import (
	"net"
	"strings"
)

// AutoBroadcast selects the directed broadcast of the first usable interface
const AutoBroadcast = "auto"

// virtualPrefixes are interfaces created by container runtimes; their
// broadcasts never reach physical devices
var virtualPrefixes = []string{"veth", "docker", "br-", "cni", "flannel", "virbr"}

// InterfaceBroadcast is the directed broadcast address of one local subnet
type InterfaceBroadcast struct {
	Interface string
	IP        string
	Broadcast string
	Private   bool
}

// InterfaceBroadcasts lists the IPv4 subnets of up, non-loopback, non-virtual
// interfaces. RFC 1918 subnets sort first.
func InterfaceBroadcasts() []InterfaceBroadcast {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var private, public []InterfaceBroadcast
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		if isVirtual(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			bcast, ok := directedBroadcast(ipnet)
			if !ok {
				continue
			}
			entry := InterfaceBroadcast{
				Interface: iface.Name,
				IP:        ipnet.IP.String(),
				Broadcast: bcast.String(),
				Private:   ipnet.IP.IsPrivate(),
			}
			if entry.Private {
				private = append(private, entry)
			} else {
				public = append(public, entry)
			}
		}
	}
	return append(private, public...)
}

// ResolveBroadcast turns a configured broadcast address into one to send to.
// AutoBroadcast picks the first interface subnet, falling back to the
// limited broadcast address.
func ResolveBroadcast(configured string) string {
	if configured != "" && configured != AutoBroadcast {
		return configured
	}
	if configured == AutoBroadcast {
		if found := InterfaceBroadcasts(); len(found) > 0 {
			return found[0].Broadcast
		}
	}
	return BroadcastAddress
}

// directedBroadcast sets every host bit of an IPv4 network. /31 and /32
// networks have no broadcast address.
func directedBroadcast(ipnet *net.IPNet) (net.IP, bool) {
	ip4 := ipnet.IP.To4()
	if ip4 == nil {
		return nil, false
	}
	ones, bits := ipnet.Mask.Size()
	if bits != 32 || ones > 30 {
		return nil, false
	}
	mask := net.IP(ipnet.Mask).To4()
	if mask == nil {
		return nil, false
	}
	out := make(net.IP, net.IPv4len)
	for i := range out {
		out[i] = ip4[i] | ^mask[i]
	}
	return out, true
}

func isVirtual(name string) bool {
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
