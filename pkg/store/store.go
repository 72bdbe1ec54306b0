// Package store implements the prescription archive on top of BadgerDB.
//
// Two key families exist:
//
//	rx:<content-hash>  -> JSON field mapping for one prescription record
//	patient:<id>       -> JSON-encoded sorted set of content hashes
//
// Records are immutable once written. The patient index only ever grows, and
// adding a hash twice has no effect. Every operation is safe for concurrent
// use by ingestion workers; index appends retry on transaction conflicts so
// that two workers extending the same patient's set cannot lose an entry.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	cerrors "github.com/sukeesh/drcopilot/pkg/common/errors"
	"github.com/sukeesh/drcopilot/pkg/record"
)

const (
	recordPrefix  = "rx:"
	patientPrefix = "patient:"

	// maxConflictRetries bounds the retry loop for index appends.
	maxConflictRetries = 8
)

// RecordStore owns all persisted prescription data. Other components read
// and append through its interface only.
type RecordStore struct {
	db  *badger.DB
	cfg *Config
}

// Open opens (or creates) an archive with the given configuration.
func Open(cfg *Config) (*RecordStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("opening record store",
		"dataDir", cfg.DataDir,
		"inMemory", cfg.InMemory,
		"readOnly", cfg.ReadOnly,
		"profile", cfg.Profile,
	)

	db, err := openBadgerDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &RecordStore{db: db, cfg: cfg}, nil
}

// Close closes the archive and releases resources.
func (s *RecordStore) Close() error {
	slog.Info("closing record store", "dataDir", s.cfg.DataDir)
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func recordKey(hash string) []byte {
	return []byte(recordPrefix + hash)
}

func patientKey(patientID string) []byte {
	return []byte(patientPrefix + patientID)
}

// Exists reports whether a record is stored under the given content hash.
func (s *RecordStore) Exists(hash string) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(recordKey(hash))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("exists check for %s: %w", hash, err)
	}
	return found, nil
}

// PutRecord writes the field mapping for a content hash. Writing the same
// hash twice overwrites with identical content, which is harmless because
// the hash is a pure function of the image bytes.
func (s *RecordStore) PutRecord(hash string, f record.Fields) error {
	val, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", hash, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(hash), val)
	})
	if err != nil {
		return fmt.Errorf("put record %s: %w", hash, err)
	}
	return nil
}

// GetRecord retrieves the stored field mapping for a content hash.
func (s *RecordStore) GetRecord(hash string) (record.Fields, error) {
	var f record.Fields
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &f)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record.Fields{}, fmt.Errorf("record %s: %w", hash, cerrors.ErrNotFound)
	}
	if err != nil {
		return record.Fields{}, fmt.Errorf("get record %s: %w", hash, err)
	}
	return f, nil
}

// AddToPatientIndex registers a content hash under a patient. The operation
// is idempotent. Concurrent appends to the same patient retry on conflict.
func (s *RecordStore) AddToPatientIndex(patientID, hash string) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			hashes, err := readHashSet(txn, patientKey(patientID))
			if err != nil {
				return err
			}
			for _, h := range hashes {
				if h == hash {
					return nil // already a member
				}
			}
			hashes = append(hashes, hash)
			sort.Strings(hashes)
			val, err := json.Marshal(hashes)
			if err != nil {
				return err
			}
			return txn.Set(patientKey(patientID), val)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("index %s under patient %s: %w", hash, patientID, err)
		}
		return nil
	}
	return fmt.Errorf("index %s under patient %s: too many conflicts", hash, patientID)
}

// ListPatients returns the identifiers of all patients with at least one
// indexed record, sorted for stable iteration.
func (s *RecordStore) ListPatients() ([]string, error) {
	var patients []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(patientPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			patients = append(patients, strings.TrimPrefix(key, patientPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	sort.Strings(patients)
	return patients, nil
}

// HashesForPatient returns the patient's content hashes, sorted. An unknown
// patient yields an empty slice, not an error.
func (s *RecordStore) HashesForPatient(patientID string) ([]string, error) {
	var hashes []string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		hashes, err = readHashSet(txn, patientKey(patientID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("hashes for patient %s: %w", patientID, err)
	}
	sort.Strings(hashes)
	return hashes, nil
}

// readHashSet reads and decodes a patient index value inside a transaction.
// A missing key decodes to an empty set.
func readHashSet(txn *badger.Txn, key []byte) ([]string, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var hashes []string
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &hashes)
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}
