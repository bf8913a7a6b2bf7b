// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replicawire

import (
	"fmt"
	"net"
	"syscall"
)

// applyRecvBuffer tunes SO_RCVBUF on a freshly dialed pool connection.
// bufBytes <= 0 is a no-op, matching dscp-style socket tuning used
// elsewhere in the pack (raw socket option set via SyscallConn).
func applyRecvBuffer(conn net.Conn, bufBytes int) error {
	if bufBytes <= 0 {
		return nil
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("replicawire: cannot tune SO_RCVBUF: conn is %T, not *net.TCPConn", conn)
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return fmt.Errorf("replicawire: getting raw conn for SO_RCVBUF: %w", err)
	}
	var sysErr error
	if err := rawConn.Control(func(fd uintptr) {
		sysErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, bufBytes)
	}); err != nil {
		return fmt.Errorf("replicawire: control fd for SO_RCVBUF: %w", err)
	}
	if sysErr != nil {
		return fmt.Errorf("replicawire: setsockopt SO_RCVBUF=%d: %w", bufBytes, sysErr)
	}
	return nil
}
