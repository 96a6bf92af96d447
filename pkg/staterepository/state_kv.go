package staterepository

import (
	"encoding/binary"
	"errors"
	"fmt"

	"kitties/pkg/serializer"
	"kitties/pkg/types"
)

// Key layout. Kitty ids and batch numbers are big-endian so that prefix scans
// visit them in ascending order.
var (
	nextKittyIDKey = []byte("kitties:next")
	kittyPrefix    = []byte("kitties:kitty:")
	ownerPrefix    = []byte("kitties:owner:")
	seedKey        = []byte("meta:seed")
	batchKey       = []byte("meta:batch")
	eventPrefix    = []byte("event:")
)

// ErrDuplicateKitty means an insert hit an id that is already stored. Ids are
// never reused, so this is always a defect in the caller.
var ErrDuplicateKitty = errors.New("kitty already exists")

func kittyKey(id types.KittyIndex) []byte {
	return binary.BigEndian.AppendUint32(append([]byte(nil), kittyPrefix...), uint32(id))
}

func ownerKey(id types.KittyIndex) []byte {
	return binary.BigEndian.AppendUint32(append([]byte(nil), ownerPrefix...), uint32(id))
}

func eventBatchPrefix(batch uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), eventPrefix...), batch)
}

// GetNextKittyID returns the next id to allocate; zero when nothing was ever allocated.
func GetNextKittyID(r Reader) (types.KittyIndex, error) {
	value, ok, err := getCopy(r, nextKittyIDKey)
	if err != nil || !ok {
		return 0, err
	}
	var id types.KittyIndex
	if err := serializer.Deserialize(value, &id); err != nil {
		return 0, fmt.Errorf("decode next kitty id: %w", err)
	}
	return id, nil
}

// SetNextKittyID stores the next id to allocate. It refuses to move the counter backwards.
func SetNextKittyID(tx *Tx, id types.KittyIndex) error {
	current, err := GetNextKittyID(tx)
	if err != nil {
		return err
	}
	if id < current {
		return fmt.Errorf("next kitty id cannot decrease from %d to %d", current, id)
	}
	return tx.set(nextKittyIDKey, serializer.Serialize(id))
}

// GetKitty looks up the genome of a kitty.
func GetKitty(r Reader, id types.KittyIndex) (types.Kitty, bool, error) {
	var kitty types.Kitty
	value, ok, err := getCopy(r, kittyKey(id))
	if err != nil || !ok {
		return kitty, false, err
	}
	if err := serializer.Deserialize(value, &kitty); err != nil {
		return kitty, false, fmt.Errorf("decode kitty %d: %w", id, err)
	}
	return kitty, true, nil
}

// InsertKitty stores a new kitty, failing with ErrDuplicateKitty if the id is taken.
func InsertKitty(tx *Tx, id types.KittyIndex, kitty types.Kitty) error {
	_, exists, err := getCopy(tx, kittyKey(id))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("insert kitty %d: %w", id, ErrDuplicateKitty)
	}
	return tx.set(kittyKey(id), serializer.Serialize(kitty))
}

// CountKitties returns the number of stored kitties.
func CountKitties(r Reader) (int, error) {
	n := 0
	err := scanPrefix(r, kittyPrefix, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// GetKittyOwner returns the current owner of a kitty.
func GetKittyOwner(r Reader, id types.KittyIndex) (types.AccountID, bool, error) {
	var owner types.AccountID
	value, ok, err := getCopy(r, ownerKey(id))
	if err != nil || !ok {
		return owner, false, err
	}
	if err := serializer.Deserialize(value, &owner); err != nil {
		return owner, false, fmt.Errorf("decode owner of kitty %d: %w", id, err)
	}
	return owner, true, nil
}

// SetKittyOwner records owner as the single owner of a kitty.
func SetKittyOwner(tx *Tx, id types.KittyIndex, owner types.AccountID) error {
	return tx.set(ownerKey(id), serializer.Serialize(owner))
}

// KittiesOwnedBy returns the ids owned by owner in ascending order.
func KittiesOwnedBy(r Reader, owner types.AccountID) ([]types.KittyIndex, error) {
	var ids []types.KittyIndex
	encoded := serializer.Serialize(owner)
	err := scanPrefix(r, ownerPrefix, func(key, value []byte) error {
		if string(value) != string(encoded) {
			return nil
		}
		ids = append(ids, types.KittyIndex(binary.BigEndian.Uint32(key[len(ownerPrefix):])))
		return nil
	})
	return ids, err
}

// GetRandomSeed returns the entropy seed of the last executed batch.
func GetRandomSeed(r Reader) ([32]byte, error) {
	var seed [32]byte
	value, ok, err := getCopy(r, seedKey)
	if err != nil || !ok {
		return seed, err
	}
	if len(value) != len(seed) {
		return seed, fmt.Errorf("stored seed has %d bytes", len(value))
	}
	copy(seed[:], value)
	return seed, nil
}

// GetBatchNumber returns the number of batches executed so far.
func GetBatchNumber(r Reader) (uint64, error) {
	value, ok, err := getCopy(r, batchKey)
	if err != nil || !ok {
		return 0, err
	}
	var n uint64
	if err := serializer.Deserialize(value, &n); err != nil {
		return 0, fmt.Errorf("decode batch number: %w", err)
	}
	return n, nil
}

// SetBatchMeta records the seed used by batch and advances the batch counter past it.
func SetBatchMeta(tx *Tx, batch uint64, seed [32]byte) error {
	if err := tx.set(seedKey, seed[:]); err != nil {
		return err
	}
	return tx.set(batchKey, serializer.Serialize(batch+1))
}

// PutEvent stores an encoded event under (batch, extrinsic, n).
func PutEvent(tx *Tx, batch uint64, extrinsic uint32, n uint8, data []byte) error {
	key := binary.BigEndian.AppendUint32(eventBatchPrefix(batch), extrinsic)
	key = append(key, n)
	return tx.set(key, data)
}

// StoredEvent is one raw entry of the event log.
type StoredEvent struct {
	Extrinsic uint32
	Data      []byte
}

// GetEvents returns the encoded events of a batch in deposit order.
func GetEvents(r Reader, batch uint64) ([]StoredEvent, error) {
	var out []StoredEvent
	prefix := eventBatchPrefix(batch)
	err := scanPrefix(r, prefix, func(key, value []byte) error {
		if len(key) != len(prefix)+5 {
			return fmt.Errorf("malformed event key %x", key)
		}
		out = append(out, StoredEvent{
			Extrinsic: binary.BigEndian.Uint32(key[len(prefix):]),
			Data:      append([]byte(nil), value...),
		})
		return nil
	})
	return out, err
}
