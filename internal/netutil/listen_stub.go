//go:build !linux

package netutil

import "net"

// Listen falls back to the standard library on non-Linux platforms; the
// requested backlog is not honored (the OS default applies), matching how
// the teacher's socketcan backend degrades to a stub off Linux.
func Listen(addr string, _ int) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
