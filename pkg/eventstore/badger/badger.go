// Package badger provides a Badger-backed event store.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goclaw/sagaflow/pkg/event"
	"github.com/goclaw/sagaflow/pkg/eventstore"
)

const (
	streamKeyPrefix   = "stream:"
	headKeyPrefix     = "stream-head:"
	snapshotKeyPrefix = "snapshot:"

	versionDigits = 20
)

// Config holds configuration for Store.
type Config struct {
	Path              string
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
	InMemory          bool
}

// Store implements eventstore.Store and eventstore.SnapshotStore using Badger.
//
// Every append runs in one read-write transaction that reads the stream head;
// Badger's conflict detection turns a concurrent head update into ErrConflict.
type Store struct {
	db     *badger.DB
	ownsDB bool
}

// Open opens a dedicated Badger database for the event store.
func Open(cfg *Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil
	opts.SyncWrites = cfg.SyncWrites
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = cfg.NumVersionsToKeep
	}
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &eventstore.UnavailableError{Backend: "badger", Cause: err}
	}
	store, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// New creates a store over an existing Badger DB. The caller keeps ownership of db.
func New(db *badger.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	return &Store{db: db}, nil
}

// Append writes events if the stream head equals expectedVersion.
func (s *Store) Append(ctx context.Context, streamID string, expectedVersion uint64, events []event.Event) (uint64, error) {
	stamped, err := eventstore.Prepare(streamID, expectedVersion, events)
	if err != nil {
		return 0, err
	}

	values := make([][]byte, len(stamped))
	for i, evt := range stamped {
		if values[i], err = eventstore.Marshal(evt); err != nil {
			return 0, err
		}
	}

	newVersion := expectedVersion + uint64(len(stamped))
	err = s.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		current, err := readHead(txn, streamID)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return &eventstore.ConflictError{StreamID: streamID, Expected: expectedVersion, Actual: current}
		}
		if len(stamped) == 0 {
			return nil
		}

		for i, evt := range stamped {
			if err := txn.Set(eventKey(streamID, evt.Version), values[i]); err != nil {
				return err
			}
		}
		return txn.Set(headKey(streamID), []byte(strconv.FormatUint(newVersion, 10)))
	})
	if errors.Is(err, badger.ErrConflict) {
		actual, _ := s.head(streamID)
		return 0, &eventstore.ConflictError{StreamID: streamID, Expected: expectedVersion, Actual: actual}
	}
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// Load returns the events after afterVersion in version order.
func (s *Store) Load(ctx context.Context, streamID string, afterVersion uint64) ([]event.Event, error) {
	prefix := []byte(streamPrefix(streamID))
	events := make([]event.Event, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(eventKey(streamID, afterVersion+1)); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			if _, ok := parseVersionFromKey(string(item.Key()), streamID); !ok {
				continue
			}
			var evt event.Event
			if err := item.Value(func(v []byte) error {
				decoded, err := eventstore.Unmarshal(v)
				evt = decoded
				return err
			}); err != nil {
				return err
			}
			events = append(events, evt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// SaveSnapshot stores snap unless a newer snapshot is already present.
func (s *Store) SaveSnapshot(ctx context.Context, snap eventstore.Snapshot) error {
	if snap.StreamID == "" {
		return eventstore.ErrEmptyStreamID
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return &eventstore.SerializationError{Operation: "marshal snapshot", Cause: err}
	}

	return s.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		existing, err := readSnapshot(txn, snap.StreamID)
		if err != nil && !errors.Is(err, eventstore.ErrSnapshotNotFound) {
			return err
		}
		if existing != nil && existing.Version > snap.Version {
			return nil
		}
		return txn.Set(snapshotKey(snap.StreamID), data)
	})
}

// LoadSnapshot returns the latest snapshot of streamID.
func (s *Store) LoadSnapshot(ctx context.Context, streamID string) (*eventstore.Snapshot, error) {
	var snap *eventstore.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		var err error
		snap, err = readSnapshot(txn, streamID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) head(streamID string) (uint64, error) {
	var current uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		current, err = readHead(txn, streamID)
		return err
	})
	return current, err
}

func readHead(txn *badger.Txn, streamID string) (uint64, error) {
	item, err := txn.Get(headKey(streamID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var current uint64
	err = item.Value(func(v []byte) error {
		parsed, err := strconv.ParseUint(string(v), 10, 64)
		if err != nil {
			return &eventstore.SerializationError{Operation: "parse stream head", Cause: err}
		}
		current = parsed
		return nil
	})
	return current, err
}

func readSnapshot(txn *badger.Txn, streamID string) (*eventstore.Snapshot, error) {
	item, err := txn.Get(snapshotKey(streamID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, eventstore.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap eventstore.Snapshot
	if err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &snap)
	}); err != nil {
		return nil, &eventstore.SerializationError{Operation: "unmarshal snapshot", Cause: err}
	}
	return &snap, nil
}

func streamPrefix(streamID string) string {
	return streamKeyPrefix + streamID + ":"
}

func eventKey(streamID string, version uint64) []byte {
	return []byte(fmt.Sprintf("%s%0*d", streamPrefix(streamID), versionDigits, version))
}

func headKey(streamID string) []byte {
	return []byte(headKeyPrefix + streamID)
}

func snapshotKey(streamID string) []byte {
	return []byte(snapshotKeyPrefix + streamID)
}

// parseVersionFromKey rejects keys of other streams that share the prefix,
// such as "a:b" when loading "a".
func parseVersionFromKey(key, streamID string) (uint64, bool) {
	suffix, ok := strings.CutPrefix(key, streamPrefix(streamID))
	if !ok || len(suffix) != versionDigits {
		return 0, false
	}
	version, err := strconv.ParseUint(suffix, 10, 64)
	if err != nil {
		return 0, false
	}
	return version, true
}
