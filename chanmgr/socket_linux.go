//go:build linux

package chanmgr

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/duskforge/opcuacore/cmn/nlog"
)

// tuneKeepaliveProbes sets TCP_KEEPCNT/TCP_KEEPINTVL, which the stdlib net
// package does not expose directly; golang.org/x/sys/unix reaches the
// syscall through the connection's raw fd. Best-effort: any failure is
// logged, never propagated, since a host that cannot tune these still has
// a working (if less aggressively monitored) connection.
func tuneKeepaliveProbes(conn net.Conn, intervalSec, count int) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		nlog.Warningf("chanmgr: SyscallConn failed: %v", err)
		return
	}
	ctrlErr := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, intervalSec); err != nil {
			nlog.Warningf("chanmgr: TCP_KEEPINTVL failed: %v", err)
		}
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, count); err != nil {
			nlog.Warningf("chanmgr: TCP_KEEPCNT failed: %v", err)
		}
	})
	if ctrlErr != nil {
		nlog.Warningf("chanmgr: raw Control failed: %v", ctrlErr)
	}
}
