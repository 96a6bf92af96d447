// Package kitties implements the kitty lifecycle transitions: issuing a
// kitty, breeding two kitties into a new one, and transferring ownership.
//
// Every entry point checks all of its preconditions before it writes
// anything, and writes only through the transaction it is given. The caller
// owns that transaction: it commits when the entry point returns nil and
// discards it otherwise, so a failed call leaves no trace.
package kitties

import (
	"fmt"
	"log/slog"

	"kitties/pkg/errors"
	"kitties/pkg/events"
	"kitties/pkg/genetics"
	"kitties/pkg/staterepository"
	"kitties/pkg/types"
)

// Randomness yields the 128-bit value used as a new genome or a breeding selector.
type Randomness interface {
	RandomValue(sender types.AccountID, extrinsicIndex uint32) [16]byte
}

// Context carries what the host supplies with each call.
type Context struct {
	Origin         Origin
	ExtrinsicIndex uint32
	Randomness     Randomness
}

// Pallet holds the kitties entry points. It keeps no state of its own.
type Pallet struct {
	logger *slog.Logger
}

// NewPallet creates a Pallet that logs through logger, or slog.Default when nil.
func NewPallet(logger *slog.Logger) *Pallet {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pallet{logger: logger.With("component", "kitties")}
}

// Dispatch routes call to its entry point and returns the events it deposited.
func (p *Pallet) Dispatch(tx *staterepository.Tx, ctx Context, call Call) ([]events.Event, error) {
	var (
		ev  events.Event
		err error
	)
	switch c := call.(type) {
	case Create:
		ev, err = p.Create(tx, ctx)
	case Breed:
		ev, err = p.Breed(tx, ctx, c.KittyID1, c.KittyID2)
	case Transfer:
		ev, err = p.Transfer(tx, ctx, c.KittyID, c.NewOwner)
	case BuyFrom:
		err = p.BuyFrom(tx, ctx, c.KittyID, c.Price, c.Buyer)
	case SellFor:
		err = p.SellFor(tx, ctx, c.KittyID, c.Price, c.Seller)
	default:
		return nil, fmt.Errorf("unknown call %T", call)
	}
	if err != nil || ev == nil {
		return nil, err
	}
	return []events.Event{ev}, nil
}

// Create issues a kitty whose genome is a fresh random value, owned by the caller.
func (p *Pallet) Create(tx *staterepository.Tx, ctx Context) (events.Event, error) {
	sender, err := ctx.Origin.EnsureSigned()
	if err != nil {
		return nil, err
	}

	kittyID, err := getNextID(tx)
	if err != nil {
		return nil, err
	}

	kitty := types.Kitty(ctx.Randomness.RandomValue(sender, ctx.ExtrinsicIndex))

	if err := p.store(tx, kittyID, kitty, sender); err != nil {
		return nil, err
	}

	p.logger.Debug("kitty created", "kitty_id", kittyID, "owner", sender.Short())
	return events.KittyCreated{Owner: sender, ID: kittyID, Kitty: kitty}, nil
}

// Breed creates a kitty from two existing ones, owned by the caller.
// The caller does not need to own either parent.
func (p *Pallet) Breed(tx *staterepository.Tx, ctx Context, kittyID1, kittyID2 types.KittyIndex) (events.Event, error) {
	sender, err := ctx.Origin.EnsureSigned()
	if err != nil {
		return nil, err
	}

	if kittyID1 == kittyID2 {
		return nil, errors.ErrSameKittyId
	}
	kitty1, err := getKitty(tx, kittyID1)
	if err != nil {
		return nil, err
	}
	kitty2, err := getKitty(tx, kittyID2)
	if err != nil {
		return nil, err
	}

	kittyID, err := getNextID(tx)
	if err != nil {
		return nil, err
	}

	selector := ctx.Randomness.RandomValue(sender, ctx.ExtrinsicIndex)
	child := genetics.Crossover(kitty1, kitty2, selector)

	if err := p.store(tx, kittyID, child, sender); err != nil {
		return nil, err
	}

	p.logger.Debug("kitty bred", "kitty_id", kittyID, "parents", []types.KittyIndex{kittyID1, kittyID2}, "owner", sender.Short())
	return events.KittyBred{Owner: sender, ID: kittyID, Kitty: child}, nil
}

// Transfer hands a kitty from its current owner, who must be the caller, to newOwner.
func (p *Pallet) Transfer(tx *staterepository.Tx, ctx Context, kittyID types.KittyIndex, newOwner types.AccountID) (events.Event, error) {
	sender, err := ctx.Origin.EnsureSigned()
	if err != nil {
		return nil, err
	}

	if _, err := getKitty(tx, kittyID); err != nil {
		return nil, err
	}

	owner, ok, err := staterepository.GetKittyOwner(tx, kittyID)
	if err != nil {
		return nil, err
	}
	if !ok || owner != sender {
		return nil, errors.ErrNotOwner
	}

	if err := staterepository.SetKittyOwner(tx, kittyID, newOwner); err != nil {
		return nil, err
	}

	p.logger.Debug("kitty transferred", "kitty_id", kittyID, "from", sender.Short(), "to", newOwner.Short())
	return events.KittyTransferred{From: sender, To: newOwner, ID: kittyID}, nil
}

// BuyFrom has no behavior yet.
func (p *Pallet) BuyFrom(_ *staterepository.Tx, _ Context, _ types.KittyIndex, _ types.Balance, _ types.AccountID) error {
	return nil
}

// SellFor has no behavior yet.
func (p *Pallet) SellFor(_ *staterepository.Tx, _ Context, _ types.KittyIndex, _ types.Balance, _ types.AccountID) error {
	return nil
}

func (p *Pallet) store(tx *staterepository.Tx, kittyID types.KittyIndex, kitty types.Kitty, owner types.AccountID) error {
	if err := staterepository.InsertKitty(tx, kittyID, kitty); err != nil {
		return err
	}
	if err := staterepository.SetKittyOwner(tx, kittyID, owner); err != nil {
		return err
	}
	return commitNextID(tx, kittyID)
}

func getKitty(r staterepository.Reader, kittyID types.KittyIndex) (types.Kitty, error) {
	kitty, ok, err := staterepository.GetKitty(r, kittyID)
	if err != nil {
		return kitty, err
	}
	if !ok {
		return kitty, errors.WrapProtocolError(errors.ErrInvalidKittyId, fmt.Sprintf("kitty %d", kittyID))
	}
	return kitty, nil
}
