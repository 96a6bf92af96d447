package staterepository

import (
	"errors"
	"fmt"
	"io"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Reader is anything state can be read from: the committed database or an
// open transaction, which also sees its own uncommitted writes.
type Reader interface {
	get(key []byte) ([]byte, io.Closer, error)
	newIter(opts *pebble.IterOptions) (*pebble.Iterator, error)
}

// PebbleStateRepository implements the ledger's persistent state using PebbleDB
type PebbleStateRepository struct {
	db *pebble.DB
}

// NewPebbleStateRepository opens (or creates) a PebbleDB-backed repository at dbPath
func NewPebbleStateRepository(dbPath string) (*PebbleStateRepository, error) {
	return open(dbPath, &pebble.Options{})
}

// NewMemoryStateRepository returns a repository backed by an in-memory filesystem.
func NewMemoryStateRepository() (*PebbleStateRepository, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(dbPath string, opts *pebble.Options) (*PebbleStateRepository, error) {
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open state repository: %w", err)
	}
	return &PebbleStateRepository{db: db}, nil
}

func (r *PebbleStateRepository) get(key []byte) ([]byte, io.Closer, error) {
	return r.db.Get(key)
}

func (r *PebbleStateRepository) newIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return r.db.NewIter(opts)
}

// Begin starts a transaction. Nothing written through it is visible to other
// readers until Commit; Close without Commit discards every write.
func (r *PebbleStateRepository) Begin() *Tx {
	return &Tx{batch: r.db.NewIndexedBatch()}
}

// Close closes the database
func (r *PebbleStateRepository) Close() error {
	return r.db.Close()
}

// Tx is an all-or-nothing unit of writes over an indexed batch.
type Tx struct {
	batch *pebble.Batch
	done  bool
}

func (tx *Tx) get(key []byte) ([]byte, io.Closer, error) {
	return tx.batch.Get(key)
}

func (tx *Tx) newIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return tx.batch.NewIter(opts)
}

func (tx *Tx) set(key, value []byte) error {
	if tx.done {
		return errTxDone
	}
	return tx.batch.Set(key, value, nil)
}

// Commit durably applies every write of the transaction at once.
func (tx *Tx) Commit() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	err := tx.batch.Commit(pebble.Sync)
	if closeErr := tx.batch.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close rolls the transaction back if it was not committed. It is safe to
// defer Close right after Begin.
func (tx *Tx) Close() error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.batch.Close()
}

var errTxDone = errors.New("transaction already finished")

// getCopy reads key and copies the value out, since pebble's slice is only
// valid until the closer is closed.
func getCopy(r Reader, key []byte) ([]byte, bool, error) {
	value, closer, err := r.get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, true, nil
}

// scanPrefix calls fn for every key under prefix in ascending key order.
// Key and value are only valid during the call.
func scanPrefix(r Reader, prefix []byte, fn func(key, value []byte) error) error {
	iter, err := r.newIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			iter.Close()
			return err
		}
	}
	return iter.Close()
}

func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
