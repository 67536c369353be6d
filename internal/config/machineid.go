package config

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"os"
	"regexp"
	"strings"
)

var hostSanitizer = regexp.MustCompile(`[^a-z0-9-]+`)

// GenerateMachineID derives a stable identifier for this host: the lower-cased
// hostname followed by the first 8 hex chars of a SHA-256 over the first
// non-loopback hardware address. Hosts without one get the hostname alone.
func GenerateMachineID() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	host = hostSanitizer.ReplaceAllString(strings.ToLower(strings.TrimSpace(host)), "-")
	host = strings.Trim(host, "-")
	if host == "" {
		host = "localhost"
	}

	mac := firstHardwareAddr()
	if mac == "" {
		return host
	}
	sum := sha256.Sum256([]byte(mac))
	return host + "-" + hex.EncodeToString(sum[:])[:8]
}

func firstHardwareAddr() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}
