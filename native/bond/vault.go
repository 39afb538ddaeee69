package bond

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"fraudproof/storage"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the account balance.
	ErrInsufficientFunds = errors.New("bond: insufficient funds")
	// ErrInvalidAmount is returned for nil amounts.
	ErrInvalidAmount = errors.New("bond: invalid amount")

	balancePrefix = []byte("bond/balance/")
)

// Payout is a single credit from the bond pool.
type Payout struct {
	Recipient common.Address
	Amount    *uint256.Int
}

// Vault keeps bond balances in the key/value store. Escrowed bonds sit on a
// dedicated pool address until a dispute is finalized.
//
// Stage* methods only append to the supplied batch; the caller commits it
// together with its own writes so balances and dispute records move in one
// atomic step. Staged moves read committed balances, so callers must hold
// the vault lock (see Locked) from staging until the batch is written.
type Vault struct {
	db   storage.Database
	pool common.Address
	mu   sync.Mutex
}

// NewVault creates a vault whose escrow pool lives at pool.
func NewVault(db storage.Database, pool common.Address) *Vault {
	return &Vault{db: db, pool: pool}
}

// Pool returns the escrow pool address.
func (v *Vault) Pool() common.Address { return v.pool }

// Locked runs fn while holding the vault lock.
func (v *Vault) Locked(fn func() error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fn()
}

func balanceKey(addr common.Address) []byte {
	key := make([]byte, 0, len(balancePrefix)+common.AddressLength)
	key = append(key, balancePrefix...)
	return append(key, addr.Bytes()...)
}

func (v *Vault) balance(addr common.Address) (*uint256.Int, error) {
	if v == nil || v.db == nil {
		return nil, fmt.Errorf("bond: vault not initialised")
	}
	raw, err := v.db.Get(balanceKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	bal := new(uint256.Int)
	if err := rlp.DecodeBytes(raw, bal); err != nil {
		return nil, fmt.Errorf("bond: decode balance %s: %w", addr.Hex(), err)
	}
	return bal, nil
}

// Balance returns the committed balance of addr.
func (v *Vault) Balance(addr common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance(addr)
}

// Deposit credits addr from outside the vault (funding a challenger's bond
// account, for instance).
func (v *Vault) Deposit(addr common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	bal, err := v.balance(addr)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return fmt.Errorf("bond: balance overflow for %s", addr.Hex())
	}
	return v.put(v.db, addr, next)
}

// StageEscrow stages moving amount from a participant into the pool.
func (v *Vault) StageEscrow(batch storage.Batch, from common.Address, amount *uint256.Int) error {
	return v.stage(batch, []move{{from: from, to: v.pool, amount: amount}})
}

// StagePayout stages paying every payout out of the pool. Either all of them
// are staged or none are.
func (v *Vault) StagePayout(batch storage.Batch, payouts []Payout) error {
	moves := make([]move, 0, len(payouts))
	for _, p := range payouts {
		moves = append(moves, move{from: v.pool, to: p.Recipient, amount: p.Amount})
	}
	return v.stage(batch, moves)
}

type move struct {
	from, to common.Address
	amount   *uint256.Int
}

// stage nets all moves per account before touching the batch so that
// repeated recipients (or a recipient equal to the source) are handled once.
func (v *Vault) stage(batch storage.Batch, moves []move) error {
	if batch == nil {
		return fmt.Errorf("bond: batch required")
	}
	credits := make(map[common.Address]*uint256.Int)
	debits := make(map[common.Address]*uint256.Int)
	add := func(m map[common.Address]*uint256.Int, addr common.Address, amount *uint256.Int) error {
		cur, ok := m[addr]
		if !ok {
			cur = new(uint256.Int)
		}
		sum, overflow := new(uint256.Int).AddOverflow(cur, amount)
		if overflow {
			return fmt.Errorf("bond: amount overflow for %s", addr.Hex())
		}
		m[addr] = sum
		return nil
	}
	for _, mv := range moves {
		if mv.amount == nil {
			return ErrInvalidAmount
		}
		if mv.amount.IsZero() {
			continue
		}
		if err := add(debits, mv.from, mv.amount); err != nil {
			return err
		}
		if err := add(credits, mv.to, mv.amount); err != nil {
			return err
		}
	}

	touched := make([]common.Address, 0, len(credits)+len(debits))
	seen := make(map[common.Address]struct{})
	for _, m := range []map[common.Address]*uint256.Int{debits, credits} {
		for addr := range m {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			touched = append(touched, addr)
		}
	}
	sort.Slice(touched, func(i, j int) bool { return touched[i].Cmp(touched[j]) < 0 })

	next := make(map[common.Address]*uint256.Int, len(touched))
	for _, addr := range touched {
		bal, err := v.balance(addr)
		if err != nil {
			return err
		}
		if c, ok := credits[addr]; ok {
			var overflow bool
			if bal, overflow = new(uint256.Int).AddOverflow(bal, c); overflow {
				return fmt.Errorf("bond: balance overflow for %s", addr.Hex())
			}
		}
		if d, ok := debits[addr]; ok {
			if bal.Lt(d) {
				return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, addr.Hex(), bal.Dec(), d.Dec())
			}
			bal = new(uint256.Int).Sub(bal, d)
		}
		next[addr] = bal
	}
	for _, addr := range touched {
		if err := v.put(batch, addr, next[addr]); err != nil {
			return err
		}
	}
	return nil
}

type putter interface {
	Put(key []byte, value []byte) error
}

func (v *Vault) put(w putter, addr common.Address, bal *uint256.Int) error {
	encoded, err := rlp.EncodeToBytes(bal)
	if err != nil {
		return fmt.Errorf("bond: encode balance: %w", err)
	}
	return w.Put(balanceKey(addr), encoded)
}

// Split divides total into two halves. The odd unit, if any, goes to the
// first share so that first+second == total.
func Split(total *uint256.Int) (first, second *uint256.Int) {
	if total == nil {
		return new(uint256.Int), new(uint256.Int)
	}
	second = new(uint256.Int).Rsh(total, 1)
	first = new(uint256.Int).Sub(total, second)
	return first, second
}
