package pool

import (
	"fmt"
	"net"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
)

// DialAddress turns a configured pool address into host:port. Both plain
// host:port and multiaddrs such as /dns4/pool.example.com/tcp/3333 are
// accepted.
func DialAddress(addr string) (string, error) {
	if strings.HasPrefix(addr, "/") {
		return multiaddrHostPort(addr)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("CONNECT error: invalid pool address %q: %w", addr, err)
	}
	if host == "" || port == "" {
		return "", fmt.Errorf("CONNECT error: invalid pool address %q", addr)
	}
	return net.JoinHostPort(host, port), nil
}

func multiaddrHostPort(addr string) (string, error) {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("CONNECT error: invalid pool multiaddr %q: %w", addr, err)
	}

	var host string
	for _, code := range []int{ma.P_DNS4, ma.P_DNS6, ma.P_DNS, ma.P_IP4, ma.P_IP6} {
		if v, err := m.ValueForProtocol(code); err == nil {
			host = v
			break
		}
	}
	if host == "" {
		return "", fmt.Errorf("CONNECT error: pool multiaddr %q has no host", addr)
	}

	port, err := m.ValueForProtocol(ma.P_TCP)
	if err != nil {
		return "", fmt.Errorf("CONNECT error: pool multiaddr %q has no tcp port", addr)
	}
	return net.JoinHostPort(host, port), nil
}
