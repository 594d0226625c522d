package chain

import "errors"

var (
	ErrComplexityNotMet = errors.New("chain: hash does not meet complexity target")
	ErrChainBroken      = errors.New("chain: prev_hash does not match cursor")
	ErrHashMismatch     = errors.New("chain: recomputed hash does not match block hash")
	ErrGroupShape       = errors.New("chain: malformed transaction group")
	ErrGroupSender      = errors.New("chain: fee transaction sender mismatch")
)
