package storage

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned by Get when the key is absent from the database.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the engine to use any database backend (in-memory or persistent).
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	// NewBatch returns a write batch whose operations are applied atomically by
	// Write. Reads through the Database never observe staged operations.
	NewBatch() Batch
	Close() // A way to gracefully shut down the database connection.
}

// Batch stages writes for a single atomic commit.
type Batch interface {
	Put(key []byte, value []byte) error
	Delete(key []byte) error
	// Len reports the number of staged operations.
	Len() int
	Write() error
	Reset()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.data[string(key)]
	return ok, nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) NewBatch() Batch {
	return &memBatch{db: db}
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

type memOp struct {
	key    string
	value  []byte
	delete bool
}

type memBatch struct {
	db  *MemDB
	ops []memOp
}

func (b *memBatch) Put(key []byte, value []byte) error {
	b.ops = append(b.ops, memOp{key: string(key), value: append([]byte(nil), value...)})
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memOp{key: string(key), delete: true})
	return nil
}

func (b *memBatch) Len() int { return len(b.ops) }

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if op.delete {
			delete(b.db.data, op.key)
			continue
		}
		b.db.data[op.key] = op.value
	}
	return nil
}

func (b *memBatch) Reset() { b.ops = b.ops[:0] }

// --- Persistent DB (for mainnet) ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Has reports whether the key is present.
func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

// Delete removes the key. Deleting a missing key is not an error.
func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// NewBatch returns a batch committed through leveldb's atomic batch write.
func (ldb *LevelDB) NewBatch() Batch {
	return &levelBatch{db: ldb.db, batch: new(leveldb.Batch)}
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}

type levelBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *levelBatch) Put(key []byte, value []byte) error {
	b.batch.Put(key, value)
	return nil
}

func (b *levelBatch) Delete(key []byte) error {
	b.batch.Delete(key)
	return nil
}

func (b *levelBatch) Len() int { return b.batch.Len() }

func (b *levelBatch) Write() error { return b.db.Write(b.batch, nil) }

func (b *levelBatch) Reset() { b.batch.Reset() }
