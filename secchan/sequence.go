package secchan

import "github.com/duskforge/opcuacore/cmn"

// wrapGuardWindow is the small window below 2^32 near which a wrap would
// become ambiguous; spec.md §9's Open Question resolves this
// conservatively: refuse the wrap entirely rather than risk ambiguity.
const wrapGuardWindow = 1024

// NextOutboundSeq returns the next local sequence number to stamp on an
// outbound chunk, advancing the channel's counter (spec.md §4.B
// "Sequencing"). It refuses (closing the channel) if advancing would wrap.
func (sc *SecureChannel) NextOutboundSeq() (uint32, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.LocalSeqNum > ^uint32(0)-wrapGuardWindow {
		sc.State = StateClosed
		return 0, cmn.NewError(cmn.KindChannel, cmn.BadSecurityChecksFailed, "outbound sequence number would wrap near 2^32")
	}
	sc.LocalSeqNum++
	return sc.LocalSeqNum, nil
}

// AcceptInboundSeq validates that seqNum is strictly greater than the last
// accepted inbound sequence number on the same token (spec.md §4.B, §8
// "Sequence monotonicity"). Numbering continues unbroken across token
// renewal: callers pass the running per-channel counter, not a per-token
// one, matching "after token renewal, numbering continues unbroken".
func (sc *SecureChannel) AcceptInboundSeq(seqNum uint32) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.haveSeen && seqNum <= sc.PeerSeqNum {
		sc.State = StateClosed
		return cmn.NewError(cmn.KindChannel, cmn.BadSecurityChecksFailed,
			"non-monotonic inbound sequence number %d (last accepted %d)", seqNum, sc.PeerSeqNum)
	}
	if seqNum > ^uint32(0)-wrapGuardWindow {
		sc.State = StateClosed
		return cmn.NewError(cmn.KindChannel, cmn.BadSecurityChecksFailed, "inbound sequence number %d near wrap boundary, refused", seqNum)
	}
	sc.PeerSeqNum = seqNum
	sc.haveSeen = true
	return nil
}
