package network

import (
	"context"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

var DefaultEndpoints = []string{"1.1.1.1:443", "8.8.8.8:443"}

// AnyReachable reports whether at least one of the endpoints answers
// within the timeout. A single endpoint's own outage must not fail the
// whole connectivity check.
func AnyReachable(ctx context.Context, endpoints []string, timeout time.Duration) bool {
	for _, endpoint := range endpoints {
		if Reachable(ctx, endpoint, timeout) {
			return true
		}
	}

	return false
}

func Reachable(ctx context.Context, endpoint string, timeout time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}

	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		host = endpoint
	}

	if ping(host, timeout) {
		return true
	}

	// ICMP sockets need privileges; fall back to a TCP dial.
	conn, err := net.DialTimeout("tcp", endpoint, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()

	return true
}

func ping(host string, timeout time.Duration) bool {
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return false
	}

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return false
	}
	defer func() { _ = conn.Close() }()

	message := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("labctl"),
		},
	}

	encoded, err := message.Marshal(nil)
	if err != nil {
		return false
	}

	if _, err := conn.WriteTo(encoded, &net.IPAddr{IP: ip}); err != nil {
		return false
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false
	}

	reply := make([]byte, 1500)
	n, _, err := conn.ReadFrom(reply)
	if err != nil {
		return false
	}

	parsed, err := icmp.ParseMessage(ipv4.ICMPTypeEchoReply.Protocol(), reply[:n])
	if err != nil {
		return false
	}

	return parsed.Type == ipv4.ICMPTypeEchoReply
}

// ForwardedSSHPort derives a stable host port for a container's SSH
// forward from its identifier.
func ForwardedSSHPort(id int) int {
	return 62000 + id%1000
}
