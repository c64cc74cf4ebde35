package secchan

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"
)

var (
	runtimeIDCounter uint64
	sidGen           *shortid.Shortid
)

func init() {
	// deterministic-enough worker/seed pair; production deployments may
	// reseed via InitShortIDs for multi-process fleets sharing a log stream.
	sidGen, _ = shortid.New(1, shortid.DefaultABC, 42)
}

// InitShortIDs reseeds the short-id generator, following the teacher's
// cos.InitShortID(seed) entrypoint.
func InitShortIDs(worker uint8, seed uint64) {
	sidGen, _ = shortid.New(worker, shortid.DefaultABC, seed)
}

// NextRuntimeID allocates a process-local monotonic SC_Id/SessionId.
func NextRuntimeID() uint64 { return atomic.AddUint64(&runtimeIDCounter, 1) }

// NewNonce returns a fresh random nonce suitable for key derivation or a
// session's client/server nonce exchange.
func NewNonce() []byte {
	u := uuid.New()
	b := make([]byte, 0, 32)
	b = append(b, u[:]...)
	u2 := uuid.New()
	return append(b, u2[:]...)
}

// ShortDisplayID returns a short human-readable id for logging, distinct
// from the numeric runtime/wire ids.
func ShortDisplayID() string {
	if sidGen == nil {
		return ""
	}
	id, err := sidGen.Generate()
	if err != nil {
		return ""
	}
	return id
}
