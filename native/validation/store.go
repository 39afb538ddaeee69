package validation

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"fraudproof/storage"
)

var (
	recordPrefix = []byte("validation/dispute/")
	indexKey     = []byte("validation/dispute-index")
)

// Store keeps open dispute records. Reads are open to anyone; mutations are
// only made by the engine, which stages them into the same batch as the bond
// movements they belong to.
type Store struct {
	db storage.Database
	mu sync.RWMutex
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dispute store not initialised")
	}
	return nil
}

// NewBatch opens a write batch on the underlying database.
func (s *Store) NewBatch() storage.Batch {
	return s.db.NewBatch()
}

// Get loads a record. A missing record yields ErrDisputeNotFound.
func (s *Store) Get(id [32]byte) (*DisputeRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

// Contains reports whether a record exists for id.
func (s *Store) Contains(id [32]byte) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Has(buildRecordKey(id))
}

// List returns up to limit records, oldest first. A non-positive limit
// returns every record.
func (s *Store) List(limit int) ([]*DisputeRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	out := make([]*DisputeRecord, 0, len(ids))
	for _, raw := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		var id [32]byte
		copy(id[:], raw)
		record, err := s.get(id)
		if errors.Is(err, ErrDisputeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// StagePut stages a new record and its index entry. Only awaiting records may
// be stored, and an id can never be reused while its record exists.
func (s *Store) StagePut(batch storage.Batch, record *DisputeRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRequest)
	}
	if record.Phase != PhaseAwaiting {
		return fmt.Errorf("%w: cannot store %s record", ErrInvalidRequest, record.Phase)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exists, err := s.db.Has(buildRecordKey(record.ID))
	if err != nil {
		return err
	}
	if exists {
		return ErrDisputeExists
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return fmt.Errorf("encode dispute: %w", err)
	}
	ids, err := s.loadIndex()
	if err != nil {
		return err
	}
	ids = append(ids, append([]byte(nil), record.ID[:]...))
	index, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return err
	}
	if err := batch.Put(buildRecordKey(record.ID), encoded); err != nil {
		return err
	}
	return batch.Put(indexKey, index)
}

// StageDelete stages removal of a record and its index entry.
func (s *Store) StageDelete(batch storage.Batch, id [32]byte) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.loadIndex()
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, entry := range ids {
		if !bytes.Equal(entry, id[:]) {
			kept = append(kept, entry)
		}
	}
	index, err := rlp.EncodeToBytes(kept)
	if err != nil {
		return err
	}
	if err := batch.Delete(buildRecordKey(id)); err != nil {
		return err
	}
	return batch.Put(indexKey, index)
}

// Remove deletes a record immediately.
func (s *Store) Remove(id [32]byte) error {
	if err := s.ready(); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	if err := s.StageDelete(batch, id); err != nil {
		return err
	}
	return batch.Write()
}

func (s *Store) get(id [32]byte) (*DisputeRecord, error) {
	data, err := s.db.Get(buildRecordKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	var record DisputeRecord
	if err := rlp.DecodeBytes(data, &record); err != nil {
		return nil, fmt.Errorf("decode dispute: %w", err)
	}
	return &record, nil
}

func (s *Store) loadIndex() ([][]byte, error) {
	data, err := s.db.Get(indexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return [][]byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	var ids [][]byte
	if err := rlp.DecodeBytes(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func buildRecordKey(id [32]byte) []byte {
	key := make([]byte, len(recordPrefix)+len(id))
	copy(key, recordPrefix)
	copy(key[len(recordPrefix):], id[:])
	return key
}
