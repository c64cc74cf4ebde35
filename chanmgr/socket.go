package chanmgr

import (
	"net"
	"time"

	"github.com/duskforge/opcuacore/cmn/nlog"
)

// TuneKeepalive best-effort enables TCP keepalive on a bound connection so
// a dead peer is detected even if the OPC UA layer above has no traffic
// scheduled; failures are logged and otherwise ignored; the channel
// manager never depends on the tuning having succeeded (spec.md §4.C
// "binds (socketHandle <-> SC_Id)" — the host hands us a real net.Conn
// only when it chooses to, and a plain net.Conn without TCP underneath,
// e.g. in tests, simply skips tuning).
func TuneKeepalive(conn net.Conn, period time.Duration) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tc.SetKeepAlive(true); err != nil {
		nlog.Warningf("chanmgr: SetKeepAlive failed: %v", err)
		return
	}
	if err := tc.SetKeepAlivePeriod(period); err != nil {
		nlog.Warningf("chanmgr: SetKeepAlivePeriod failed: %v", err)
	}
	tuneKeepaliveProbes(tc, int(period.Seconds()), 3)
}
