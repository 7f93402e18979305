// Package tls issues a locally trusted certificate for the agent's
// WebSocket listener.
package tls

import (
	"net"
)

// LANIPs returns the IPv4 addresses of every interface that is up and not
// a loopback.
func LANIPs() ([]string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		ips = append(ips, ipv4Hosts(addrs)...)
	}
	return ips, nil
}

func ipv4Hosts(addrs []net.Addr) []string {
	var out []string
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
			out = append(out, ip.String())
		}
	}
	return out
}

// Hosts returns localhost names plus LANIPs. On error the localhost names
// are still returned.
func Hosts() ([]string, error) {
	hosts := []string{"localhost", "127.0.0.1"}
	lan, err := LANIPs()
	if err != nil {
		return hosts, err
	}
	return append(hosts, lan...), nil
}
