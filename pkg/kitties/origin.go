package kitties

import (
	"kitties/pkg/errors"
	"kitties/pkg/types"
)

// Origin is who a call claims to come from. The host authenticates callers
// before building a signed origin; this package only trusts it.
type Origin struct {
	signer *types.AccountID
}

// Signed is the origin of a call authenticated as account.
func Signed(account types.AccountID) Origin {
	return Origin{signer: &account}
}

// None is the origin of a call carrying no identity.
func None() Origin {
	return Origin{}
}

// EnsureSigned returns the signer, or ErrBadOrigin for an unsigned origin.
func (o Origin) EnsureSigned() (types.AccountID, error) {
	if o.signer == nil {
		return types.AccountID{}, errors.ErrBadOrigin
	}
	return *o.signer, nil
}

func (o Origin) String() string {
	if o.signer == nil {
		return "none"
	}
	return "signed(" + o.signer.Short() + ")"
}
