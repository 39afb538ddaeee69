package trie

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/crypto"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
)

// Flavor selects how keys are mapped onto trie paths.
type Flavor uint8

const (
	// Plain tries use the key bytes as the path (transaction and receipt tries).
	Plain Flavor = iota
	// Secure tries hash every key with keccak256 first (the account trie).
	Secure
)

func (f Flavor) path(key []byte) []byte {
	if f == Secure {
		return crypto.Keccak256(key)
	}
	return key
}

// Builder wraps go-ethereum's in-memory trie so callers can assemble a trie,
// read its root and extract inclusion proofs for individual keys. It is used
// to produce evidence bundles and test fixtures; verification lives in
// proof.go and never needs a Builder.
//
// Builder is not safe for concurrent use.
type Builder struct {
	flavor Flavor
	trie   *gethtrie.Trie
}

// NewBuilder creates an empty trie of the requested flavor backed by a
// throwaway in-memory node database.
func NewBuilder(flavor Flavor) *Builder {
	db := triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil)
	return &Builder{flavor: flavor, trie: gethtrie.NewEmpty(db)}
}

// Update inserts or updates a value in the trie for the provided key.
func (b *Builder) Update(key, value []byte) error {
	if len(value) == 0 {
		return errors.New("trie: empty value")
	}
	return b.trie.Update(b.flavor.path(key), value)
}

// Root returns the root hash reflecting all in-memory mutations.
func (b *Builder) Root() common.Hash {
	return b.trie.Hash()
}

// Prove returns the RLP-encoded nodes on the path from the root to key, in the
// same shape as the accountProof field of eth_getProof. A proof is produced
// for absent keys too; it proves exclusion and verifies as not-found.
func (b *Builder) Prove(key []byte) ([][]byte, error) {
	var nodes proofList
	if err := b.trie.Prove(b.flavor.path(key), &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// proofList collects proof nodes in root-to-leaf order.
type proofList [][]byte

func (p *proofList) Put(key []byte, value []byte) error {
	*p = append(*p, common.CopyBytes(value))
	return nil
}

func (p *proofList) Delete(key []byte) error {
	return errors.New("trie: proof list is append-only")
}
