package validation

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"fraudproof/storage"
)

func sampleRecord(id byte) *DisputeRecord {
	return &DisputeRecord{
		ID:            [32]byte{id},
		Phase:         PhaseAwaiting,
		TimestampInit: 1_700_000_000,
		AuthorizedMessages: []MessageDetails{
			{Sequence: 4, FuelLimit: 21_000, MessageDigest: common.HexToHash("0xabc")},
			{Sequence: 5, FuelLimit: 50_000, MessageDigest: common.HexToHash("0xdef")},
		},
		ProtocolDestination: destination,
		WitnessAuthorizer:   witness,
		Validator:           validator,
		Challenger:          challenger,
		AttestationID:       [32]byte{0xa7, id},
		Bond:                uint256.NewInt(250),
	}
}

func putRecord(t *testing.T, s *Store, r *DisputeRecord) {
	t.Helper()
	batch := s.NewBatch()
	require.NoError(t, s.StagePut(batch, r))
	require.NoError(t, batch.Write())
}

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(storage.NewMemDB())
	record := sampleRecord(1)
	putRecord(t, s, record)

	loaded, err := s.Get(record.ID)
	require.NoError(t, err)
	require.Equal(t, record, loaded)

	ok, err := s.Contains(record.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Remove(record.ID))
	_, err = s.Get(record.ID)
	require.ErrorIs(t, err, ErrDisputeNotFound)
	ok, err = s.Contains(record.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreRejectsDuplicatesAndTerminalPhases(t *testing.T) {
	s := NewStore(storage.NewMemDB())
	putRecord(t, s, sampleRecord(1))
	require.ErrorIs(t, s.StagePut(s.NewBatch(), sampleRecord(1)), ErrDisputeExists)

	settled := sampleRecord(2)
	settled.Phase = PhaseConfirmed
	require.ErrorIs(t, s.StagePut(s.NewBatch(), settled), ErrInvalidRequest)
	require.ErrorIs(t, s.StagePut(s.NewBatch(), nil), ErrInvalidRequest)
}

func TestStoreStagedDeleteIsInvisibleUntilWrite(t *testing.T) {
	s := NewStore(storage.NewMemDB())
	record := sampleRecord(1)
	putRecord(t, s, record)

	batch := s.NewBatch()
	require.NoError(t, s.StageDelete(batch, record.ID))
	_, err := s.Get(record.ID)
	require.NoError(t, err)

	require.NoError(t, batch.Write())
	_, err = s.Get(record.ID)
	require.ErrorIs(t, err, ErrDisputeNotFound)
}

func TestStoreListKeepsInsertionOrder(t *testing.T) {
	s := NewStore(storage.NewMemDB())
	for _, id := range []byte{3, 1, 2} {
		putRecord(t, s, sampleRecord(id))
	}
	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, [32]byte{3}, all[0].ID)
	require.Equal(t, [32]byte{2}, all[2].ID)

	limited, err := s.List(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	require.NoError(t, s.Remove([32]byte{1}))
	all, err = s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, [32]byte{2}, all[1].ID)
}

func TestStoreOnLevelDB(t *testing.T) {
	db, err := storage.NewLevelDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewStore(db)
	record := sampleRecord(7)
	putRecord(t, s, record)
	loaded, err := s.Get(record.ID)
	require.NoError(t, err)
	require.Equal(t, record.Bond.Uint64(), loaded.Bond.Uint64())
	require.Equal(t, record.AuthorizedMessages, loaded.AuthorizedMessages)
}

func TestNilStore(t *testing.T) {
	var s *Store
	_, err := s.Get([32]byte{})
	require.Error(t, err)
}
