// Package rand generates short identifiers for locally created tables.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const (
	bytesInUint64 = 8
	charset       = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" // reduced base64

	// TableIDLength is the length of the random part of a local table id.
	TableIDLength = 12
	// TableIDPrefix marks ids allocated on the client rather than by the agent.
	TableIDPrefix = "table_"
)

var charsetLen = len(charset)

var defaultRandBytes = newRandBytes()

func newRandBytes() *randBytes {
	seed := make([]byte, bytesInUint64*2)

	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}

	return &randBytes{
		//nolint:gosec // ids only need to be unique, not unguessable
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

type randBytes struct {
	mut sync.Mutex
	rng *rand.Rand
}

func (rb *randBytes) base62Str(length int) string {
	buf := make([]byte, length)

	rb.mut.Lock()
	for i := range buf {
		buf[i] = charset[rb.rng.IntN(charsetLen)]
	}
	rb.mut.Unlock()

	return string(buf)
}

// NewID returns a random base62 string of the given length.
func NewID(length int) string {
	if length <= 0 {
		return ""
	}
	return defaultRandBytes.base62Str(length)
}

// NewTableID returns a fresh id for a table created on this client.
func NewTableID() string {
	return TableIDPrefix + NewID(TableIDLength)
}
