//go:build !linux

package chanmgr

import "net"

// tuneKeepaliveProbes is a no-op outside Linux: TCP_KEEPCNT/TCP_KEEPINTVL
// tuning via golang.org/x/sys/unix is Linux-specific; other platforms fall
// back to the portable SetKeepAlive/SetKeepAlivePeriod path in TuneKeepalive.
func tuneKeepaliveProbes(_ net.Conn, _, _ int) {}
