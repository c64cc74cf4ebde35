package chunk_test

import (
	"bytes"
	"testing"

	"github.com/duskforge/opcuacore/codec"
	"github.com/duskforge/opcuacore/codec/chunk"
)

func seq(n, req uint32) codec.SequenceHeader {
	return codec.SequenceHeader{SequenceNumber: n, RequestId: req}
}

func TestChunkingReassemblesByteIdentical(t *testing.T) {
	a := chunk.NewAssembler(16, 1<<20)
	payload := []byte("hello world, this is a chunked payload")
	part1, part2, part3 := payload[:10], payload[10:25], payload[25:]

	if _, done, err := a.Feed(1, seq(1, 7), codec.ChunkIntermediate, part1); done || err != nil {
		t.Fatalf("chunk 1: done=%v err=%v", done, err)
	}
	if _, done, err := a.Feed(1, seq(2, 7), codec.ChunkIntermediate, part2); done || err != nil {
		t.Fatalf("chunk 2: done=%v err=%v", done, err)
	}
	body, done, err := a.Feed(1, seq(3, 7), codec.ChunkFinal, part3)
	if err != nil || !done {
		t.Fatalf("final chunk: done=%v err=%v", done, err)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("reassembled body mismatch: got %q want %q", body, payload)
	}
}

func TestSingleChunkMatchesMultiChunk(t *testing.T) {
	payload := []byte("single-shot message")
	a := chunk.NewAssembler(16, 1<<20)
	body, done, err := a.Feed(2, seq(1, 1), codec.ChunkFinal, payload)
	if err != nil || !done || !bytes.Equal(body, payload) {
		t.Fatalf("single-chunk F failed: done=%v err=%v body=%q", done, err, body)
	}
}

func TestAbortDiscardsAndNeverDelivers(t *testing.T) {
	a := chunk.NewAssembler(16, 1<<20)
	if _, _, err := a.Feed(3, seq(1, 9), codec.ChunkIntermediate, []byte("partial")); err != nil {
		t.Fatalf("unexpected error on first chunk: %v", err)
	}
	_, done, err := a.Feed(3, seq(2, 9), codec.ChunkAbort, nil)
	if done {
		t.Fatalf("abort must never deliver a message")
	}
	if err != chunk.ErrAborted {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	// in-flight state must be fully gone: the same requestId can start fresh
	// (with a fresh sequence number, since those are never reused).
	_, done, err = a.Feed(3, seq(3, 9), codec.ChunkFinal, []byte("fresh"))
	if err != nil || !done {
		t.Fatalf("fresh message after abort failed: done=%v err=%v", done, err)
	}
}

func TestMaxChunkCountEnforced(t *testing.T) {
	a := chunk.NewAssembler(2, 1<<20)
	if _, _, err := a.Feed(4, seq(1, 1), codec.ChunkIntermediate, []byte("a")); err != nil {
		t.Fatalf("chunk 1 unexpected err: %v", err)
	}
	if _, _, err := a.Feed(4, seq(2, 1), codec.ChunkIntermediate, []byte("b")); err != nil {
		t.Fatalf("chunk 2 unexpected err: %v", err)
	}
	if _, _, err := a.Feed(4, seq(3, 1), codec.ChunkFinal, []byte("c")); err == nil {
		t.Fatalf("expected max chunk count violation")
	}
}

func TestNonMonotonicSequenceWithinMessageRejected(t *testing.T) {
	a := chunk.NewAssembler(16, 1<<20)
	if _, _, err := a.Feed(5, seq(5, 1), codec.ChunkIntermediate, []byte("x")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, _, err := a.Feed(5, seq(3, 1), codec.ChunkFinal, []byte("y")); err == nil {
		t.Fatalf("expected non-monotonic sequence rejection")
	}
}
