//go:build windows

package core

import (
	"net"

	"golang.org/x/sys/windows"
)

// suppressConnReset implements §9's "Windows-only UDP connection-reset
// suppression": without it, a prior ICMP Port Unreachable on this socket
// causes the next ReadFrom to fail with WSAECONNRESET instead of being
// silently ignored the way every other platform handles it by default.
func suppressConnReset(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	const ioIn = 0x80000000
	const ioVendor = 0x18000000
	const sioUDPConnReset = ioIn | ioVendor | 12

	var ctlErr error
	err = raw.Control(func(fd uintptr) {
		inBuf := []byte{0}
		var bytesReturned uint32
		ctlErr = windows.WSAIoctl(
			windows.Handle(fd),
			sioUDPConnReset,
			&inBuf[0], uint32(len(inBuf)),
			nil, 0,
			&bytesReturned,
			nil, 0,
		)
	})
	if err != nil {
		return err
	}
	return ctlErr
}
