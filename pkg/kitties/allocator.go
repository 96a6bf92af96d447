package kitties

import (
	"math"

	"kitties/pkg/errors"
	"kitties/pkg/staterepository"
	"kitties/pkg/types"
)

// getNextID returns the id the next kitty will get. The counter itself is
// only advanced by commitNextID, in the same transaction as the kitty.
func getNextID(r staterepository.Reader) (types.KittyIndex, error) {
	id, err := staterepository.GetNextKittyID(r)
	if err != nil {
		return 0, err
	}
	if id == math.MaxUint32 {
		return 0, errors.ErrIdSpaceExhausted
	}
	return id, nil
}

func commitNextID(tx *staterepository.Tx, allocated types.KittyIndex) error {
	return staterepository.SetNextKittyID(tx, allocated+1)
}
