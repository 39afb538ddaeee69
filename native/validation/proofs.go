package validation

import (
	"github.com/ethereum/go-ethereum/common"

	"fraudproof/storage/trie"
)

// ProofVerifier answers inclusion questions about supplied proofs. A false
// result only says the proof does not link the key to the root; it says
// nothing about whether the item exists.
type ProofVerifier interface {
	ProveAccount(key []byte, proof [][]byte, stateRoot common.Hash) (bool, []byte)
	ProveLeaf(key []byte, proof [][]byte, treeRoot common.Hash) (bool, []byte)
}

// TrieVerifier checks Merkle-Patricia proofs with go-ethereum's trie: account
// proofs use hashed keys, message proofs use plain keys.
type TrieVerifier struct{}

// ProveAccount implements ProofVerifier.
func (TrieVerifier) ProveAccount(key []byte, proof [][]byte, stateRoot common.Hash) (bool, []byte) {
	return trie.VerifyAccount(key, proof, stateRoot)
}

// ProveLeaf implements ProofVerifier.
func (TrieVerifier) ProveLeaf(key []byte, proof [][]byte, treeRoot common.Hash) (bool, []byte) {
	return trie.VerifyLeaf(key, proof, treeRoot)
}
