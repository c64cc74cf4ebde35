// Package pubqueue implements the subscription publish queue (spec.md
// §4.I): a capped notification FIFO, a fixed-capacity LZ4-compressed
// retransmission ring for Republish, a publish-request queue, and the
// keep-alive/lifetime counter rules.
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package pubqueue

import (
	"sync"

	"github.com/pierrec/lz4/v3"

	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/cmn/nlog"
	"github.com/duskforge/opcuacore/uatype"
)

// Notification is one data-change or event notification queued for
// delivery (spec.md §3 "MonitoredItem / Subscription").
type Notification struct {
	SequenceNumber uint32
	Node           uatype.NodeId
	Attr           uatype.AttributeId
	Value          uatype.DataValue
}

// ringEntry stores a sent NotificationMessage LZ4-compressed, bounding the
// retransmission ring's memory footprint the way the teacher's PubSub
// transport stream compresses queued payloads.
type ringEntry struct {
	seq          uint32
	compressed   []byte
	rawLen       int
	uncompressed bool // compressed holds the raw bytes (LZ4 declined to compress)
}

// Subscription owns one publish queue per spec.md §3/§4.I.
type Subscription struct {
	mu sync.Mutex

	ID                uint64
	maxQueueSize      int
	maxKeepAliveCount uint32
	ringCapacity      int

	queue   []Notification
	dropped uint64 // count of oldest-dropped notifications due to overflow

	ring     []ringEntry
	ringNext int // next write slot, wraps at ringCapacity

	nextSeq        uint32
	keepAliveCount uint32 // ticks since the last real notification or keep-alive
	lateCounter    uint32
	closed         bool

	publishRequests int // count of pending client Publish requests
}

// New creates a Subscription with the given queue/ring caps and keep-alive
// period (expressed as a tick count, per spec.md §4.I).
func New(id uint64, maxQueueSize int, ringCapacity int, maxKeepAliveCount uint32) *Subscription {
	return &Subscription{
		ID:                id,
		maxQueueSize:      maxQueueSize,
		ringCapacity:      ringCapacity,
		maxKeepAliveCount: maxKeepAliveCount,
		ring:              make([]ringEntry, 0, ringCapacity),
		nextSeq:           1,
	}
}

// OnDataChange implements services.DataChangeNotifier: it enqueues a new
// notification, incrementing sequenceNumber, and drops the oldest queued
// notification on overflow (spec.md §4.I "overflow drops oldest").
func (s *Subscription) OnDataChange(node uatype.NodeId, attr uatype.AttributeId, dv uatype.DataValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	n := Notification{SequenceNumber: s.nextSeq, Node: node, Attr: attr, Value: dv}
	s.nextSeq++

	if len(s.queue) >= s.maxQueueSize {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, n)
}

// QueuePublishRequest records one pending client Publish request.
func (s *Subscription) QueuePublishRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishRequests++
}

// PublishOutcome is what Publish() decides to emit, per spec.md §4.I's
// invariant: "a Publish response is emitted iff either the notification
// queue is non-empty... or a keep-alive counter expired".
type PublishOutcome struct {
	Notification    *Notification // nil for a keep-alive-only response
	MoreNotifications bool
	KeepAlive       bool
}

// Publish consumes one pending publish request (if any) against the queue
// state, implementing spec.md §4.I's emission/backpressure/keep-alive
// rules. Called on each housekeeper tick for this subscription.
func (s *Subscription) Publish() (*PublishOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, cmn.NewError(cmn.KindResource, cmn.BadTimeout, "subscription %d closed", s.ID)
	}

	if len(s.queue) > 0 {
		if s.publishRequests == 0 {
			// Backpressure: no Publish request queued to carry this
			// notification. It remains queued; lateCounter increments.
			s.lateCounter++
			if s.lateCounter >= s.maxKeepAliveCount*3 {
				s.closed = true
				return nil, cmn.NewError(cmn.KindResource, cmn.BadTimeout, "subscription %d exceeded late-publish threshold", s.ID)
			}
			return nil, nil
		}
		s.publishRequests--
		n := s.queue[0]
		s.queue = s.queue[1:]
		s.pushRetransmit(n)
		s.keepAliveCount = 0
		s.lateCounter = 0
		return &PublishOutcome{Notification: &n, MoreNotifications: len(s.queue) > 0}, nil
	}

	// No notification pending: keep-alive bookkeeping.
	s.keepAliveCount++
	if s.keepAliveCount < s.maxKeepAliveCount {
		return nil, nil
	}
	if s.publishRequests == 0 {
		return nil, nil
	}
	s.publishRequests--
	s.keepAliveCount = 0
	return &PublishOutcome{KeepAlive: true}, nil
}

// pushRetransmit LZ4-compresses the sent notification's essential fields
// into the fixed-capacity ring, overwriting the oldest slot once full.
func (s *Subscription) pushRetransmit(n Notification) {
	raw := encodeForRetransmit(n)
	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
	hashTable := make([]int, 1<<16)
	written, err := lz4.CompressBlock(raw, compressed, hashTable)
	if err != nil || written == 0 {
		// Incompressible or tiny payload: lz4.CompressBlock reports 0 when
		// it declines to compress; store raw bytes uncompressed rather
		// than fail the publish.
		nlog.Warningf("pubqueue: sub=%d storing notification seq=%d uncompressed (%v)", s.ID, n.SequenceNumber, err)
		entry := ringEntry{seq: n.SequenceNumber, compressed: append([]byte(nil), raw...), rawLen: len(raw), uncompressed: true}
		s.insertRing(entry)
		return
	}
	entry := ringEntry{seq: n.SequenceNumber, compressed: compressed[:written], rawLen: len(raw)}
	s.insertRing(entry)
}

func (s *Subscription) insertRing(e ringEntry) {
	if len(s.ring) < s.ringCapacity {
		s.ring = append(s.ring, e)
		return
	}
	s.ring[s.ringNext] = e
	s.ringNext = (s.ringNext + 1) % s.ringCapacity
}

// Republish decompresses and returns the retransmission-ring entry for a
// given sequence number, serving Republish requests (spec.md §4.I
// "retransmissionQueue... Republish requests serve from here").
func (s *Subscription) Republish(seq uint32) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.ring {
		if e.seq != seq {
			continue
		}
		if e.uncompressed {
			return decodeRetransmit(e.compressed, seq), nil
		}
		raw := make([]byte, e.rawLen)
		if n, err := lz4.UncompressBlock(e.compressed, raw); err != nil {
			return Notification{}, cmn.WrapError(cmn.KindResource, cmn.BadTimeout, err, "decompress retransmission seq=%d", seq)
		} else if n != e.rawLen {
			raw = raw[:n]
		}
		return decodeRetransmit(raw, seq), nil
	}
	return Notification{}, cmn.NewError(cmn.KindResource, cmn.BadTimeout, "sequence %d no longer in the retransmission ring", seq)
}

// Close marks the subscription terminated (lifetimeCounter expiry, or an
// explicit Delete).
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Subscription) DroppedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
