package storage

import (
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("kv")

// BoltDB stores all keys in a single bbolt bucket. It trades leveldb's write
// throughput for a single-file layout that is easy to snapshot.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (creating when missing) a bbolt file at path.
func NewBoltDB(path string, options *bolt.Options) (*BoltDB, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Put(key []byte, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, value)
	})
}

func (b *BoltDB) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltBucket).Get(key)
		if raw == nil {
			return ErrNotFound
		}
		// Values are only valid for the life of the transaction.
		out = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltDB) Has(key []byte) (bool, error) {
	_, err := b.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *BoltDB) Delete(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
}

func (b *BoltDB) NewBatch() Batch {
	return &boltBatch{db: b.db}
}

func (b *BoltDB) Close() {
	_ = b.db.Close()
}

type boltBatch struct {
	db  *bolt.DB
	ops []memOp
}

func (b *boltBatch) Put(key []byte, value []byte) error {
	b.ops = append(b.ops, memOp{key: string(key), value: append([]byte(nil), value...)})
	return nil
}

func (b *boltBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memOp{key: string(key), delete: true})
	return nil
}

func (b *boltBatch) Len() int { return len(b.ops) }

func (b *boltBatch) Write() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for _, op := range b.ops {
			if op.delete {
				if err := bucket.Delete([]byte(op.key)); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put([]byte(op.key), op.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltBatch) Reset() { b.ops = b.ops[:0] }
