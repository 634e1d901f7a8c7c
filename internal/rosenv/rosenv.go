// Package rosenv resolves the environment-derived configuration a node
// needs to reach a master and advertise itself: the master endpoint and
// the host a node should advertise to its peers. Resolution follows an
// explicit-option-then-environment-then-computed-fallback order.
package rosenv

import (
	"errors"
	"fmt"
	"net"
	"os"
)

const (
	// EnvMasterURI names the master RPC endpoint, e.g. "http://localhost:11311".
	EnvMasterURI = "ROS_MASTER_URI"
	// EnvHostname is the preferred advertised hostname.
	EnvHostname = "ROS_HOSTNAME"
	// EnvIP is the advertised IP, used if EnvHostname is unset.
	EnvIP = "ROS_IP"
)

// ErrNoMasterURI is returned when neither an explicit option nor
// ROS_MASTER_URI resolves a master endpoint.
var ErrNoMasterURI = errors.New("rosenv: no master URI given and ROS_MASTER_URI is unset")

// MasterURI resolves the master endpoint: explicit (non-empty) wins, else
// the ROS_MASTER_URI environment variable, else ErrNoMasterURI.
func MasterURI(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if v := os.Getenv(EnvMasterURI); v != "" {
		return v, nil
	}
	return "", ErrNoMasterURI
}

// AdvertiseHost resolves the host a node advertises to peers and to the
// master: explicit wins, then ROS_HOSTNAME, then ROS_IP, then the first
// non-loopback address found on the host's interfaces, then "localhost" as
// a last resort (§6: "per-platform address discovery as fallback").
func AdvertiseHost(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv(EnvHostname); v != "" {
		return v
	}
	if v := os.Getenv(EnvIP); v != "" {
		return v
	}
	if addr, err := firstNonLoopbackAddr(); err == nil {
		return addr
	}
	return "localhost"
}

func firstNonLoopbackAddr() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("rosenv: enumerating interface addresses: %w", err)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", errors.New("rosenv: no non-loopback address found")
}
