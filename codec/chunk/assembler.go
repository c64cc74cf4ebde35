// Package chunk implements the OPC UA chunk assembler (spec.md §4.A):
// per-(channel, requestId) reassembly of C/F/A framed chunks into a
// complete logical message, with max-chunk-count, max-body-size, and
// strictly-monotonic-sequence-number enforcement.
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package chunk

import (
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/seiflotfy/cuckoofilter"

	"github.com/duskforge/opcuacore/cmn"
	"github.com/duskforge/opcuacore/codec"
)

// ErrAborted is returned from Feed when an 'A' chunk discards the
// in-flight buffer; per spec.md §9 this is a clean discard, not a fatal
// channel error — the caller decides whether to also close the channel.
var ErrAborted = &cmn.Error{Kind: cmn.KindTransport, Status: cmn.BadCommunicationError, Msg: "chunk sequence aborted"}

// key identifies one in-flight reassembly: a channel id and the requestId
// carried by its sequence header.
type key struct {
	channelID uint32
	requestID uint32
}

func (k key) hash() uint64 {
	h := xxhash.New64()
	var b [8]byte
	b[0] = byte(k.channelID)
	b[1] = byte(k.channelID >> 8)
	b[2] = byte(k.channelID >> 16)
	b[3] = byte(k.channelID >> 24)
	b[4] = byte(k.requestID)
	b[5] = byte(k.requestID >> 8)
	b[6] = byte(k.requestID >> 16)
	b[7] = byte(k.requestID >> 24)
	_, _ = h.Write(b[:])
	return h.Sum64()
}

type inflight struct {
	body        []byte
	chunkCount  int
	lastSeqNum  uint32
	haveSeqNum  bool
}

// Assembler reassembles chunked bodies for a single secure channel. Feed
// calls are serialized by an internal mutex; chunks of one message are
// taken in the order they are fed, which in the toolkit engine is the
// single SecureChannels goroutine's arrival order (spec.md §5).
type Assembler struct {
	mu          sync.Mutex
	inflights   map[uint64]*inflight
	maxChunks   int
	maxBodySize uint32

	// Replay guards against resubmission of an already-accepted
	// (channel, sequence number) pair, alongside the precise monotonic check
	// in secchan (the toolkit engine runs that check first), using a cuckoo filter the way a high-throughput duplicate-suppression
	// layer would (see DESIGN.md `codec/chunk`).
	replay *cuckoo.Filter
}

func NewAssembler(maxChunks int, maxBodySize uint32) *Assembler {
	return &Assembler{
		inflights:   make(map[uint64]*inflight),
		maxChunks:   maxChunks,
		maxBodySize: maxBodySize,
		replay:      cuckoo.NewFilter(4096),
	}
}

// Feed appends one chunk's body fragment. It returns (body, true, nil) when
// flag==F completes a message, (nil, false, nil) when more chunks are
// expected, or a non-nil error — ErrAborted on 'A', or a fatal cmn.Error on
// any limit violation (spec.md §4.A).
func (a *Assembler) Feed(channelID uint32, seq codec.SequenceHeader, flag codec.ChunkFlag, fragment []byte) ([]byte, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := key{channelID: channelID, requestID: seq.RequestId}
	h := k.hash()

	if flag == codec.ChunkAbort {
		delete(a.inflights, h)
		return nil, false, ErrAborted
	}

	replayTok := replayToken(channelID, seq.SequenceNumber)
	if a.replay.Lookup(replayTok) {
		return nil, false, cmn.NewError(cmn.KindChannel, cmn.BadSecurityChecksFailed,
			"replayed sequence number %d on channel %d", seq.SequenceNumber, channelID)
	}

	fl, ok := a.inflights[h]
	if !ok {
		fl = &inflight{}
		a.inflights[h] = fl
	}

	if fl.haveSeqNum && seq.SequenceNumber <= fl.lastSeqNum {
		delete(a.inflights, h)
		return nil, false, cmn.NewError(cmn.KindChannel, cmn.BadSecurityChecksFailed,
			"non-monotonic sequence number %d (last %d) within chunked message", seq.SequenceNumber, fl.lastSeqNum)
	}
	fl.lastSeqNum = seq.SequenceNumber
	fl.haveSeqNum = true
	fl.chunkCount++
	a.replay.InsertUnique(replayTok)

	if fl.chunkCount > a.maxChunks {
		delete(a.inflights, h)
		return nil, false, cmn.NewError(cmn.KindTransport, cmn.BadTcpMessageTooLarge,
			"chunk count %d exceeds max %d", fl.chunkCount, a.maxChunks)
	}
	if uint32(len(fl.body)+len(fragment)) > a.maxBodySize {
		delete(a.inflights, h)
		return nil, false, cmn.NewError(cmn.KindTransport, cmn.BadTcpMessageTooLarge,
			"assembled body would exceed max %d bytes", a.maxBodySize)
	}
	fl.body = append(fl.body, fragment...)

	if flag == codec.ChunkFinal {
		delete(a.inflights, h)
		return fl.body, true, nil
	}
	// 'C': at least one has now been seen, so a later lone 'F' with no
	// preceding 'C' on a *different* requestId is unaffected; this path
	// only tracks the requestId actually in progress.
	return nil, false, nil
}

// Discard drops any in-flight state for (channelID, requestID), used when
// the channel itself closes so a partially assembled message never leaks
// into a later channel instance reusing the same small-integer ids.
func (a *Assembler) Discard(channelID, requestID uint32) {
	a.mu.Lock()
	delete(a.inflights, key{channelID, requestID}.hash())
	a.mu.Unlock()
}

// DiscardChannel drops every in-flight buffer. Each SecureChannel owns its
// own Assembler instance, so a channel close clears the whole table.
func (a *Assembler) DiscardChannel(channelID uint32) {
	_ = channelID
	a.mu.Lock()
	a.inflights = make(map[uint64]*inflight)
	a.mu.Unlock()
}

func replayToken(channelID, seqNum uint32) []byte {
	var b [8]byte
	b[0] = byte(channelID)
	b[1] = byte(channelID >> 8)
	b[2] = byte(channelID >> 16)
	b[3] = byte(channelID >> 24)
	b[4] = byte(seqNum)
	b[5] = byte(seqNum >> 8)
	b[6] = byte(seqNum >> 16)
	b[7] = byte(seqNum >> 24)
	return b[:]
}
