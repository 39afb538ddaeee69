package validation

import "github.com/ethereum/go-ethereum/common"

// Allowlist is a ValidatorRegistry over a fixed set of validators.
type Allowlist map[common.Address]struct{}

func NewAllowlist(validators ...common.Address) Allowlist {
	out := make(Allowlist, len(validators))
	for _, v := range validators {
		out[v] = struct{}{}
	}
	return out
}

func (a Allowlist) IsActive(validator common.Address) (bool, error) {
	_, ok := a[validator]
	return ok, nil
}
