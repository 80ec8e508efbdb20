package tuning

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var bucketLayouts = []byte("layouts")

// Layout is a stored thread layout.
type Layout struct {
	Threads   []ThreadConfig `cbor:"1,keyasint"`
	CreatedAt int64          `cbor:"2,keyasint"`
}

// Store persists layouts in a bbolt database keyed by host fingerprint.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// OpenStore opens or creates the layout database at path.
func OpenStore(path string, logger *zap.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open layout store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLayouts)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create layout bucket: %w", err)
	}

	return &Store{db: db, logger: logger.Named("tuning")}, nil
}

// Load returns the layout stored for fingerprint.
func (s *Store) Load(fingerprint string) (*Layout, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketLayouts).Get([]byte(fingerprint)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("read layout: %w", err)
	}
	if data == nil {
		return nil, false, nil
	}

	var l Layout
	if err := cbor.Unmarshal(data, &l); err != nil {
		return nil, false, fmt.Errorf("decode layout: %w", err)
	}
	return &l, true, nil
}

// Save stores l under fingerprint, replacing any previous layout.
func (s *Store) Save(fingerprint string, l *Layout) error {
	data, err := cbor.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode layout: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLayouts).Put([]byte(fingerprint), data)
	})
	if err != nil {
		return fmt.Errorf("write layout: %w", err)
	}
	s.logger.Debug("layout saved", zap.String("fingerprint", fingerprint), zap.Int("threads", len(l.Threads)))
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
