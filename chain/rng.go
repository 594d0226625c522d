package chain

import (
	"math/rand"

	"github.com/uqoin-network/uqoin-node/common"
)

// MathRNG adapts math/rand.Rand to the RNG interface threaded explicitly
// through mining and pool preparation (spec.md §9: "never captured from a
// global"). Every caller owns its own *rand.Rand seeded independently, so
// concurrent mining workers never contend on the package-level global
// source.
type MathRNG struct {
	r *rand.Rand
}

func NewMathRNG(seed int64) *MathRNG {
	return &MathRNG{r: rand.New(rand.NewSource(seed))}
}

func (m *MathRNG) Next256() common.U256 {
	var out common.U256
	m.r.Read(out[:])
	return out
}

func (m *MathRNG) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return m.r.Intn(n)
}
