// store persists records in a bbolt database, one bucket per named collection.
// Records are keyed by a per-bucket sequence, which is also written to the
// record's "id" field.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"unseen/records"

	bolt "go.etcd.io/bbolt"
)

// IDField is the record field holding the record's sequence id.
const IDField = "id"

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("store: record not found")
	// ErrInvalidID is returned for ids that are not positive integers.
	ErrInvalidID = errors.New("store: invalid record id")
)

// Store is a bbolt backed record store.
type Store struct {
	db *bolt.DB
}

// Open opens, creating if needed, the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ParseID parses a record id as used in urls.
func ParseID(id string) (uint64, error) {
	seq, err := strconv.ParseUint(id, 10, 64)
	if err != nil || seq == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return seq, nil
}

// List returns every record of the collection, in id order. An unknown
// collection has no records.
func (s *Store) List(collection string) ([]records.Record, error) {
	recs := []records.Record{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			rec, err := unmarshalRecord(v)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	return recs, err
}

// Get returns the record with the given id.
func (s *Store) Get(collection string, id uint64) (records.Record, error) {
	var rec records.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get(marshalSeq(id))
		if v == nil {
			return ErrNotFound
		}
		var err error
		rec, err = unmarshalRecord(v)
		return err
	})
	return rec, err
}

// Create stores rec under the next sequence id and returns the stored record.
func (s *Store) Create(collection string, rec records.Record) (records.Record, error) {
	var stored records.Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		stored, err = put(b, seq, rec)
		return err
	})
	return stored, err
}

// Update replaces the record with the given id and returns the stored record.
func (s *Store) Update(collection string, id uint64, rec records.Record) (records.Record, error) {
	var stored records.Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil || b.Get(marshalSeq(id)) == nil {
			return ErrNotFound
		}
		var err error
		stored, err = put(b, id, rec)
		return err
	})
	return stored, err
}

// Delete removes the record with the given id.
func (s *Store) Delete(collection string, id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil || b.Get(marshalSeq(id)) == nil {
			return ErrNotFound
		}
		return b.Delete(marshalSeq(id))
	})
}

// Seed creates recs in an empty collection, reporting how many were created.
// A collection already holding records is left alone.
func (s *Store) Seed(collection string, recs []records.Record) (int, error) {
	created := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		if k, _ := b.Cursor().First(); k != nil {
			return nil
		}
		for _, rec := range recs {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if _, err := put(b, seq, rec); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	return created, err
}

func put(b *bolt.Bucket, seq uint64, rec records.Record) (records.Record, error) {
	stored := rec.Clone()
	stored[IDField] = seq
	v, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if err := b.Put(marshalSeq(seq), v); err != nil {
		return nil, err
	}
	// Hand back what a later read would, e.g. numbers as float64.
	return unmarshalRecord(v)
}

func unmarshalRecord(v []byte) (records.Record, error) {
	var rec records.Record
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func marshalSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
