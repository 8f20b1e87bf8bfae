package streams

import (
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/russross/meddler"
)

// ErrNotFound is returned by GetByStreamID when no record exists for the key.
var ErrNotFound = errors.New("stream record not found")

// Store persists stream records keyed by stream id. Implementations must
// serialize writes to the same stream id.
type Store interface {
	Create(record *StreamRecord) error
	GetByStreamID(streamID string) (*StreamRecord, error)
	Update(record *StreamRecord) error
}

// SQLiteStore is the production Store backed by the stream_records table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on top of an opened database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Create inserts a new stream record. The row id is assigned by the database
// and written back into record.ID.
func (s *SQLiteStore) Create(record *StreamRecord) error {
	if err := meddler.Insert(s.db, "stream_records", record); err != nil {
		return fmt.Errorf("failed to insert stream record %s: %w", record.StreamID, err)
	}

	return nil
}

// GetByStreamID fetches a record by its business key. Returns ErrNotFound
// when the stream id is unknown.
func (s *SQLiteStore) GetByStreamID(streamID string) (*StreamRecord, error) {
	record := new(StreamRecord)
	err := meddler.QueryRow(s.db, record,
		"SELECT * FROM stream_records WHERE stream_id = ?", streamID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query stream record %s: %w", streamID, err)
	}

	return record, nil
}

// Update rewrites an existing record by its row id.
func (s *SQLiteStore) Update(record *StreamRecord) error {
	if err := meddler.Update(s.db, "stream_records", record); err != nil {
		return fmt.Errorf("failed to update stream record %s: %w", record.StreamID, err)
	}

	return nil
}

// MemoryStore is an in-memory Store used in tests.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]*StreamRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*StreamRecord)}
}

func (s *MemoryStore) Create(record *StreamRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.StreamID]; ok {
		return fmt.Errorf("stream record %s already exists", record.StreamID)
	}

	s.nextID++
	record.ID = s.nextID
	s.records[record.StreamID] = copyRecord(record)

	return nil
}

func (s *MemoryStore) GetByStreamID(streamID string) (*StreamRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[streamID]
	if !ok {
		return nil, ErrNotFound
	}

	return copyRecord(record), nil
}

func (s *MemoryStore) Update(record *StreamRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.StreamID]; !ok {
		return ErrNotFound
	}

	s.records[record.StreamID] = copyRecord(record)

	return nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

func copyRecord(record *StreamRecord) *StreamRecord {
	clone := *record
	if record.TotalAmount != nil {
		clone.TotalAmount = new(big.Int).Set(record.TotalAmount)
	}
	if record.Withdrawn != nil {
		clone.Withdrawn = new(big.Int).Set(record.Withdrawn)
	}

	return &clone
}
