package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	textBucketName   = "ocr_text"
	recordBucketName = "records"
	batchBucketName  = "batch_runs"
)

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.New("not found")

// DB defines the interface for database operations
type DB interface {
	// SaveText caches OCR text under the hash of the document bytes
	SaveText(hash, text string) error

	// GetText returns cached OCR text, or ErrNotFound
	GetText(hash string) (string, error)

	// SaveRecord saves a processing record
	SaveRecord(record *Record) error

	// GetRecord retrieves a record by ID
	GetRecord(id string) (*Record, error)

	// ListRecords returns all records
	ListRecords() ([]*Record, error)

	// SaveBatchRun saves a batch status
	SaveBatchRun(run *BatchRun) error

	// ListBatchRuns returns all batch runs
	ListBatchRuns() ([]*BatchRun, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{textBucketName, recordBucketName, batchBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) SaveText(hash, text string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(textBucketName)).Put([]byte(hash), []byte(text))
	})
}

func (b *BoltDB) GetText(hash string) (string, error) {
	var text string
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(textBucketName)).Get([]byte(hash))
		if data == nil {
			return fmt.Errorf("text %s: %w", hash, ErrNotFound)
		}
		// data is only valid inside the transaction
		text = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// SaveRecord saves a record to the database
func (b *BoltDB) SaveRecord(record *Record) error {
	return putJSON(b.db, recordBucketName, record.ID, record)
}

// GetRecord retrieves a record by ID
func (b *BoltDB) GetRecord(id string) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(recordBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListRecords returns all records
func (b *BoltDB) ListRecords() ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(recordBucketName)).ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SaveBatchRun saves a batch run to the database
func (b *BoltDB) SaveBatchRun(run *BatchRun) error {
	return putJSON(b.db, batchBucketName, run.ID, run)
}

// ListBatchRuns returns all batch runs
func (b *BoltDB) ListBatchRuns() ([]*BatchRun, error) {
	runs := make([]*BatchRun, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(batchBucketName)).ForEach(func(k, v []byte) error {
			var run BatchRun
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("unmarshaling batch run: %w", err)
			}
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func putJSON(db *bbolt.DB, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", bucket, err)
	}
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}
