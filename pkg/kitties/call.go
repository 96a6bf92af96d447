package kitties

import (
	"fmt"

	"kitties/pkg/serializer"
	"kitties/pkg/types"
)

type callTag uint8

const (
	tagCreate callTag = iota
	tagBreed
	tagTransfer
	tagBuyFrom
	tagSellFor
)

// Call is one of Create, Breed, Transfer, BuyFrom or SellFor.
type Call interface {
	Name() string
	tag() callTag
}

type Create struct{}

type Breed struct {
	KittyID1 types.KittyIndex
	KittyID2 types.KittyIndex
}

type Transfer struct {
	KittyID  types.KittyIndex
	NewOwner types.AccountID
}

// BuyFrom is reserved for a marketplace and has no effect.
type BuyFrom struct {
	KittyID types.KittyIndex
	Price   types.Balance
	Buyer   types.AccountID
}

// SellFor is reserved for a marketplace and has no effect.
type SellFor struct {
	KittyID types.KittyIndex
	Price   types.Balance
	Seller  types.AccountID
}

func (Create) Name() string   { return "create" }
func (Breed) Name() string    { return "breed" }
func (Transfer) Name() string { return "transfer" }
func (BuyFrom) Name() string  { return "buy_from" }
func (SellFor) Name() string  { return "sell_for" }

func (Create) tag() callTag   { return tagCreate }
func (Breed) tag() callTag    { return tagBreed }
func (Transfer) tag() callTag { return tagTransfer }
func (BuyFrom) tag() callTag  { return tagBuyFrom }
func (SellFor) tag() callTag  { return tagSellFor }

// EncodeCall writes the call tag followed by the encoded arguments.
func EncodeCall(c Call) []byte {
	return append([]byte{byte(c.tag())}, serializer.Serialize(c)...)
}

func DecodeCall(data []byte) (Call, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty call")
	}
	var (
		c   Call
		err error
	)
	args := data[1:]
	switch callTag(data[0]) {
	case tagCreate:
		var call Create
		err = serializer.Deserialize(args, &call)
		c = call
	case tagBreed:
		var call Breed
		err = serializer.Deserialize(args, &call)
		c = call
	case tagTransfer:
		var call Transfer
		err = serializer.Deserialize(args, &call)
		c = call
	case tagBuyFrom:
		var call BuyFrom
		err = serializer.Deserialize(args, &call)
		c = call
	case tagSellFor:
		var call SellFor
		err = serializer.Deserialize(args, &call)
		c = call
	default:
		return nil, fmt.Errorf("unknown call tag %d", data[0])
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s call: %w", c.Name(), err)
	}
	return c, nil
}
