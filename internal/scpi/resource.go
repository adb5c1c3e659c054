package scpi

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the standard SCPI raw socket port
const DefaultPort = 5025

// ResourceAddress converts a VISA resource string into a host:port address.
//
//	TCPIP0::192.168.1.10::inst0::INSTR   -> 192.168.1.10:5025
//	TCPIP::192.168.1.10::5025::SOCKET    -> 192.168.1.10:5025
//	192.168.1.10:5025                    -> 192.168.1.10:5025
func ResourceAddress(resource string) (string, error) {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return "", fmt.Errorf("scpi: empty resource")
	}

	if !strings.Contains(resource, "::") {
		if _, _, err := net.SplitHostPort(resource); err == nil {
			return resource, nil
		}
		return net.JoinHostPort(resource, strconv.Itoa(DefaultPort)), nil
	}

	parts := strings.Split(resource, "::")
	if !strings.HasPrefix(strings.ToUpper(parts[0]), "TCPIP") {
		return "", fmt.Errorf("scpi: unsupported resource '%s': only TCPIP resources are supported", resource)
	}
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("scpi: resource '%s' has no host", resource)
	}

	host, port := parts[1], DefaultPort
	if len(parts) == 4 && strings.EqualFold(parts[3], "SOCKET") {
		p, err := strconv.Atoi(parts[2])
		if err != nil || p <= 0 || p > 65535 {
			return "", fmt.Errorf("scpi: resource '%s' has invalid port '%s'", resource, parts[2])
		}
		port = p
	}

	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// Resource formats the VISA resource string of an instrument at ip
func Resource(ip string) string {
	return fmt.Sprintf("TCPIP0::%s::inst0::INSTR", ip)
}
