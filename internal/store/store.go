// Package store provides a BoltDB-backed record of update releases seen by deskshell.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

var releasesBucket = []byte("releases")

// ReleaseRecord represents an update release in the database.
type ReleaseRecord struct {
	Version      string     `msgpack:"version"`
	URL          string     `msgpack:"url"`
	SHA256       string     `msgpack:"sha256"`
	Path         string     `msgpack:"path"`
	CheckedAt    time.Time  `msgpack:"checked_at"`
	CheckCount   uint64     `msgpack:"check_count"`
	DownloadedAt *time.Time `msgpack:"downloaded_at,omitempty"`
	Installed    bool       `msgpack:"installed"`
}

// Downloaded reports whether the release artifact has been fetched and verified.
func (r ReleaseRecord) Downloaded() bool {
	return r.DownloadedAt != nil && r.Path != ""
}

// Store wraps a bbolt database for release records.
type Store struct {
	db  *bolt.DB
	mu  sync.RWMutex
	log zerolog.Logger
}

// New opens or creates a BoltDB file at the given path.
func New(path string, log zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(releasesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating releases bucket: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordCheck inserts or refreshes a release seen in the update feed.
func (s *Store) RecordCheck(version, url, sum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(releasesBucket)
		key := []byte(version)
		now := time.Now()

		var record ReleaseRecord
		if existing := b.Get(key); existing != nil {
			if err := msgpack.Unmarshal(existing, &record); err != nil {
				s.log.Warn().Err(err).Str("version", version).Msg("Failed to unmarshal existing record, overwriting")
				record = ReleaseRecord{}
			}
		} else {
			s.log.Info().
				Str("version", version).
				Str("url", url).
				Msg("New release seen")
		}

		// A changed artifact invalidates any earlier download.
		if record.SHA256 != "" && record.SHA256 != sum {
			record.DownloadedAt = nil
			record.Path = ""
		}
		record.Version = version
		record.URL = url
		record.SHA256 = sum
		record.CheckedAt = now
		record.CheckCount++

		return put(b, key, record)
	})
}

// MarkDownloaded records the verified artifact path for a release.
func (s *Store) MarkDownloaded(version, path string) error {
	return s.modify(version, func(r *ReleaseRecord) {
		now := time.Now()
		r.Path = path
		r.DownloadedAt = &now
		s.log.Info().Str("version", version).Str("path", path).Msg("Release downloaded")
	})
}

// MarkInstalled flags a release as handed to the installer.
func (s *Store) MarkInstalled(version string) error {
	return s.modify(version, func(r *ReleaseRecord) {
		r.Installed = true
		s.log.Info().Str("version", version).Msg("Release installed")
	})
}

// Get returns a single release record.
func (s *Store) Get(version string) (*ReleaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record *ReleaseRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(releasesBucket).Get([]byte(version))
		if v == nil {
			return nil
		}
		record = &ReleaseRecord{}
		return msgpack.Unmarshal(v, record)
	})
	if err != nil {
		return nil, fmt.Errorf("reading release %s: %w", version, err)
	}
	return record, nil
}

// GetAll returns all release records, oldest version first.
func (s *Store) GetAll() ([]ReleaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []ReleaseRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(releasesBucket)
		return b.ForEach(func(k, v []byte) error {
			var record ReleaseRecord
			if err := msgpack.Unmarshal(v, &record); err != nil {
				s.log.Warn().Err(err).Str("key", string(k)).Msg("Skipping corrupt record")
				return nil
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return versionLess(records[i].Version, records[j].Version)
	})
	return records, nil
}

// Pending returns the newest downloaded release that has not been installed, or nil.
func (s *Store) Pending() (*ReleaseRecord, error) {
	all, err := s.GetAll()
	if err != nil {
		return nil, err
	}

	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Downloaded() && !all[i].Installed {
			r := all[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (s *Store) modify(version string, fn func(*ReleaseRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(releasesBucket)
		key := []byte(version)

		existing := b.Get(key)
		if existing == nil {
			return fmt.Errorf("release %s not found", version)
		}

		var record ReleaseRecord
		if err := msgpack.Unmarshal(existing, &record); err != nil {
			return fmt.Errorf("unmarshaling record: %w", err)
		}
		fn(&record)
		return put(b, key, record)
	})
}

func put(b *bolt.Bucket, key []byte, record ReleaseRecord) error {
	data, err := msgpack.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling release record: %w", err)
	}
	return b.Put(key, data)
}

func versionLess(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return a < b
	}
	return va.LessThan(*vb)
}
