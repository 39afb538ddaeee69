package state

import (
	"errors"
	"fmt"
	"strings"

	"fraudproof/storage"
)

const keyPrefix = "params/"

// DB persists governance parameters in a key/value database under the
// "params/" prefix. It satisfies the parameter store's state contract.
type DB struct {
	db storage.Database
}

// NewDB wraps the supplied database.
func NewDB(db storage.Database) *DB {
	return &DB{db: db}
}

// ParamStoreSet writes the raw parameter value.
func (s *DB) ParamStoreSet(name string, value []byte) error {
	key, err := paramKey(name)
	if err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("params: database not configured")
	}
	return s.db.Put(key, value)
}

// ParamStoreGet reads the raw parameter value. A missing parameter is reported
// with ok=false rather than an error.
func (s *DB) ParamStoreGet(name string) ([]byte, bool, error) {
	key, err := paramKey(name)
	if err != nil {
		return nil, false, err
	}
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("params: database not configured")
	}
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("params: load %s: %w", name, err)
	}
	return raw, true, nil
}

func paramKey(name string) ([]byte, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, fmt.Errorf("params: parameter name required")
	}
	return []byte(keyPrefix + trimmed), nil
}
