// Package crypto implements the Schema named interface from spec.md §1/§6:
// curve parameters plus key derivation and signing/recovery, used to derive
// a miner's public key from its configured private key and to recover a
// transaction's sender from its signature. Grounded on the
// secp256k1 dependency (github.com/btcsuite/btcd/btcec/v2) carried by the
// retrieval pack's go-ethereum-derived repos, which this node uses directly
// since the teacher itself leaves curve operations to its own vendored
// crypto package that isn't part of the retrieved file set.
package crypto

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/uqoin-network/uqoin-node/common"
)

// Schema bundles the curve and hash operations the rest of the node treats
// as an opaque cryptographic primitive (spec §1 Out of scope).
type Schema struct{}

func New() *Schema { return &Schema{} }

// Hash256 is the node's block/transaction hashing primitive.
func (s *Schema) Hash256(data []byte) common.U256 {
	h := sha256.Sum256(data)
	return common.U256(h)
}

// PublicKey derives the public key (as a U256 wallet identifier: the X
// coordinate of the compressed point) belonging to a private key.
func (s *Schema) PublicKey(priv common.U256) common.U256 {
	_, pub := btcec.PrivKeyFromBytes(priv[:])
	return common.FromBytes(pub.SerializeCompressed())
}

// Sign produces a 65-byte recoverable compact signature over a message
// hash, using the configured validator private key.
func (s *Schema) Sign(priv common.U256, msgHash common.U256) [65]byte {
	key, _ := btcec.PrivKeyFromBytes(priv[:])
	sig := ecdsa.SignCompact(key, msgHash[:], true)
	var out [65]byte
	copy(out[:], sig)
	return out
}

// Recover recovers the signer's public key from a message hash and
// signature. The result depends only on its two arguments; callers compute
// msgHash from the transaction's own fields (chain.Transaction.Hash), never
// from state.
func (s *Schema) Recover(msgHash common.U256, sig [65]byte) (common.U256, error) {
	pub, _, err := ecdsa.RecoverCompact(sig[:], msgHash[:])
	if err != nil {
		return common.Zero, err
	}
	return common.FromBytes(pub.SerializeCompressed()), nil
}
