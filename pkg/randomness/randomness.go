// Package randomness turns host-supplied entropy into per-call 128-bit values.
//
// The values are distinct for every call of a batch but they are not
// unpredictable: whoever knows or chooses the batch seed ahead of time can
// compute every value derived from it. Genomes and breeding selectors inherit
// exactly that level of unpredictability and no more.
package randomness

import (
	"encoding/binary"
	"fmt"

	"kitties/pkg/serializer"
	"kitties/pkg/types"

	"golang.org/x/crypto/blake2b"
)

// BatchContext is what the host knows when a batch starts.
type BatchContext struct {
	Number     uint64
	ParentSeed [32]byte
}

// Source supplies the external entropy seed for one execution batch.
type Source interface {
	Seed(ctx BatchContext) [32]byte
}

// Fixed returns the same seed for every batch.
type Fixed [32]byte

func (f Fixed) Seed(BatchContext) [32]byte {
	return f
}

// HashChain derives each batch seed as blake2b-256(parentSeed || LE64(number)).
type HashChain struct{}

func (HashChain) Seed(ctx BatchContext) [32]byte {
	var buf [40]byte
	copy(buf[:32], ctx.ParentSeed[:])
	binary.LittleEndian.PutUint64(buf[32:], ctx.Number)
	return blake2b.Sum256(buf[:])
}

// NewSource builds a source by name: "fixed" uses seed, "hashchain" ignores it.
func NewSource(mode string, seed [32]byte) (Source, error) {
	switch mode {
	case "fixed":
		return Fixed(seed), nil
	case "hashchain":
		return HashChain{}, nil
	default:
		return nil, fmt.Errorf("unknown randomness mode %q", mode)
	}
}

// Adapter derives call randomness from one batch seed and batch number.
type Adapter struct {
	seed   [32]byte
	number uint64
}

// NewAdapter binds an adapter to the seed and number of one batch.
func NewAdapter(seed [32]byte, number uint64) *Adapter {
	return &Adapter{seed: seed, number: number}
}

// randomPayload is hashed in field order; the extrinsic index is an option
// that is always present inside a batch.
type randomPayload struct {
	Seed           [32]byte
	Number         uint64
	Sender         types.AccountID
	ExtrinsicIndex *uint32
}

// RandomValue returns blake2b-128 over the encoded
// ((seed, batchNumber), sender, extrinsicIndex).
func (a *Adapter) RandomValue(sender types.AccountID, extrinsicIndex uint32) [16]byte {
	payload := serializer.Serialize(randomPayload{
		Seed:           a.seed,
		Number:         a.number,
		Sender:         sender,
		ExtrinsicIndex: &extrinsicIndex,
	})

	h, err := blake2b.New(16, nil)
	if err != nil {
		// only reachable with an invalid size or key
		panic(err)
	}
	h.Write(payload)

	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}
