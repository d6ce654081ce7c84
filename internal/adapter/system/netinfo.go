package system

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// HardwareId returns the MAC address of iface as upper-case colon separated
// hex. With an empty iface the first non-loopback interface with an address
// is used.
func HardwareId(iface string) (string, error) {
	if iface != "" {
		i, err := net.InterfaceByName(iface)
		if err != nil {
			return "", err
		}
		if len(i.HardwareAddr) == 0 {
			return "", fmt.Errorf("interface %s has no hardware address", iface)
		}
		return FormatHardwareAddr(i.HardwareAddr), nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, i := range ifaces {
		if i.Flags&net.FlagLoopback != 0 || len(i.HardwareAddr) == 0 {
			continue
		}
		return FormatHardwareAddr(i.HardwareAddr), nil
	}
	return "", errors.New("no network interface with a hardware address")
}

func FormatHardwareAddr(addr net.HardwareAddr) string {
	return strings.ToUpper(addr.String())
}

// LocalIPv4 returns the first IPv4 address of iface, or of any non-loopback
// interface when iface is empty. Returns an empty string when offline.
func LocalIPv4(iface string) string {
	var ifaces []net.Interface
	if iface != "" {
		i, err := net.InterfaceByName(iface)
		if err != nil {
			return ""
		}
		ifaces = []net.Interface{*i}
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return ""
		}
		ifaces = all
	}

	for _, i := range ifaces {
		if i.Flags&net.FlagLoopback != 0 || i.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := i.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok {
				if ip4 := ipNet.IP.To4(); ip4 != nil {
					return ip4.String()
				}
			}
		}
	}
	return ""
}
