package cmn

import "time"

// readMostly is a lock-free snapshot of the handful of config values the
// hot path (dispatcher, secchan) reads constantly, updated wholesale on
// reconfiguration rather than read field-by-field from a mutex-guarded
// config — same rationale as the teacher's cmn.Rom.
type readMostly struct {
	tokenRenewalFraction float64       // trigger OPN2 at this fraction of requestedLifetime
	tokenOverlapCap      time.Duration // upper bound on previous-token acceptance window
	maxChunkCount        int
	maxMessageSize       uint32
	verbose              bool
}

var Rom = readMostly{
	tokenRenewalFraction: 0.75,
	tokenOverlapCap:      5 * time.Second,
	maxChunkCount:        512,
	maxMessageSize:       16 * 1024 * 1024,
}

func (r *readMostly) Set(renewalFraction float64, overlapCap time.Duration, maxChunks int, maxMsgSize uint32) {
	r.tokenRenewalFraction = renewalFraction
	r.tokenOverlapCap = overlapCap
	r.maxChunkCount = maxChunks
	r.maxMessageSize = maxMsgSize
}

func (r *readMostly) TokenRenewalFraction() float64      { return r.tokenRenewalFraction }
func (r *readMostly) TokenOverlapCap() time.Duration     { return r.tokenOverlapCap }
func (r *readMostly) MaxChunkCount() int                 { return r.maxChunkCount }
func (r *readMostly) MaxMessageSize() uint32             { return r.maxMessageSize }
func (r *readMostly) SetVerbose(v bool)                  { r.verbose = v }
func (r *readMostly) Verbose() bool                      { return r.verbose }

// TokenOverlap computes the renewal-overlap window for a given new token
// lifetime, resolving the Open Question in spec.md §9: min(25% of new
// lifetime, 5s).
func TokenOverlap(newLifetime time.Duration) time.Duration {
	quarter := newLifetime / 4
	if quarter < Rom.TokenOverlapCap() {
		return quarter
	}
	return Rom.TokenOverlapCap()
}
