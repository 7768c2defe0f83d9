//go:build !windows

package core

import "net"

// suppressConnReset is a no-op on every non-Windows platform: ICMP-driven
// read errors are silently ignored by default, per §9 Open Questions.
func suppressConnReset(conn *net.UDPConn) error { return nil }
