package trie

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	gethtrie "github.com/ethereum/go-ethereum/trie"
)

// Verify checks that proof links root to key and returns the stored value.
// Every failure mode (missing node, malformed node, wrong root, absent key)
// collapses to exists=false: the answer is about the supplied proof against
// the supplied root and nothing more.
func Verify(flavor Flavor, key []byte, proof [][]byte, root common.Hash) (bool, []byte) {
	if len(proof) == 0 {
		return false, nil
	}
	db := memorydb.New()
	for _, node := range proof {
		if len(node) == 0 {
			return false, nil
		}
		if err := db.Put(crypto.Keccak256(node), node); err != nil {
			return false, nil
		}
	}
	value, err := gethtrie.VerifyProof(root, flavor.path(key), db)
	if err != nil || len(value) == 0 {
		return false, nil
	}
	return true, value
}

// VerifyAccount proves key (an account address) against a world-state root.
func VerifyAccount(key []byte, proof [][]byte, stateRoot common.Hash) (bool, []byte) {
	return Verify(Secure, key, proof, stateRoot)
}

// VerifyLeaf proves a plain-keyed leaf against a trie root.
func VerifyLeaf(key []byte, proof [][]byte, treeRoot common.Hash) (bool, []byte) {
	return Verify(Plain, key, proof, treeRoot)
}
