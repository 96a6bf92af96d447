// Package events defines the notifications published after a transition
// commits, and the emitters that deliver them.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"kitties/pkg/serializer"
	"kitties/pkg/types"
)

type Kind uint8

const (
	KindKittyCreated Kind = iota
	KindKittyBred
	KindKittyTransferred
)

func (k Kind) String() string {
	switch k {
	case KindKittyCreated:
		return "KittyCreated"
	case KindKittyBred:
		return "KittyBred"
	case KindKittyTransferred:
		return "KittyTransferred"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Event is one of KittyCreated, KittyBred or KittyTransferred.
type Event interface {
	Kind() Kind
}

type KittyCreated struct {
	Owner types.AccountID
	ID    types.KittyIndex
	Kitty types.Kitty
}

type KittyBred struct {
	Owner types.AccountID
	ID    types.KittyIndex
	Kitty types.Kitty
}

type KittyTransferred struct {
	From types.AccountID
	To   types.AccountID
	ID   types.KittyIndex
}

func (KittyCreated) Kind() Kind     { return KindKittyCreated }
func (KittyBred) Kind() Kind        { return KindKittyBred }
func (KittyTransferred) Kind() Kind { return KindKittyTransferred }

// Encode writes the kind byte followed by the encoded event.
func Encode(e Event) []byte {
	return append([]byte{byte(e.Kind())}, serializer.Serialize(e)...)
}

func Decode(data []byte) (Event, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty event")
	}
	var (
		e   Event
		err error
	)
	switch Kind(data[0]) {
	case KindKittyCreated:
		var ev KittyCreated
		err = serializer.Deserialize(data[1:], &ev)
		e = ev
	case KindKittyBred:
		var ev KittyBred
		err = serializer.Deserialize(data[1:], &ev)
		e = ev
	case KindKittyTransferred:
		var ev KittyTransferred
		err = serializer.Deserialize(data[1:], &ev)
		e = ev
	default:
		return nil, fmt.Errorf("unknown event kind %d", data[0])
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", Kind(data[0]), err)
	}
	return e, nil
}

// Record places an event in the ledger's history.
type Record struct {
	Batch     uint64
	Extrinsic uint32
	Event     Event
}

// Emitter delivers committed events to observers outside the ledger.
type Emitter interface {
	Emit(ctx context.Context, r Record) error
}

// Recorder keeps every emitted record in memory.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *Recorder) Emit(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

// Records returns a copy of what has been emitted so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// LogEmitter writes each event as a structured log line.
type LogEmitter struct {
	Logger *slog.Logger
}

func (l LogEmitter) Emit(ctx context.Context, rec Record) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"batch", rec.Batch, "extrinsic", rec.Extrinsic}
	switch e := rec.Event.(type) {
	case KittyCreated:
		attrs = append(attrs, "owner", e.Owner.String(), "kitty_id", e.ID, "dna", e.Kitty.String())
	case KittyBred:
		attrs = append(attrs, "owner", e.Owner.String(), "kitty_id", e.ID, "dna", e.Kitty.String())
	case KittyTransferred:
		attrs = append(attrs, "from", e.From.String(), "to", e.To.String(), "kitty_id", e.ID)
	}
	logger.InfoContext(ctx, rec.Event.Kind().String(), attrs...)
	return nil
}

// Fanout delivers to every emitter and returns the first error.
type Fanout []Emitter

func (f Fanout) Emit(ctx context.Context, rec Record) error {
	var first error
	for _, e := range f {
		if err := e.Emit(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}
