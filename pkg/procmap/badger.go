package procmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const entryPrefix = "p:"

// BadgerConfig configures a BadgerRegistrar.
type BadgerConfig struct {
	// DBPath is the database directory. Required.
	DBPath string `mapstructure:"db_path"`

	// TTL expires entries that stop heartbeating. 0 keeps them until
	// Unregister.
	TTL time.Duration `mapstructure:"ttl"`
}

// BadgerRegistrar keeps entries in a BadgerDB database so several server
// processes and admin tools on one host share the same view.
//
// Entries are JSON encoded under "p:<name>". With a TTL every write
// refreshes the expiry, so a crashed server drops out of List on its own.
type BadgerRegistrar struct {
	db  *badger.DB
	ttl time.Duration
	now func() time.Time
}

// NewBadgerRegistrar opens (or creates) the database at cfg.DBPath.
func NewBadgerRegistrar(ctx context.Context, cfg BadgerConfig) (*BadgerRegistrar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.DBPath == "" {
		return nil, errors.New("procmap: db_path is required")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("procmap: negative ttl %s", cfg.TTL)
	}

	opts := badger.DefaultOptions(cfg.DBPath).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open procmap database at %s: %w", cfg.DBPath, err)
	}

	return &BadgerRegistrar{db: db, ttl: cfg.TTL, now: time.Now}, nil
}

func (r *BadgerRegistrar) Register(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.Name == "" {
		return errors.New("procmap: entry name is required")
	}

	now := r.now()
	if entry.Started.IsZero() {
		entry.Started = now
	}
	entry.Updated = now

	return r.db.Update(func(txn *badger.Txn) error {
		return r.put(txn, entry)
	})
}

// Heartbeat updates the status line of a registered entry.
func (r *BadgerRegistrar) Heartbeat(ctx context.Context, name, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		entry, err := r.get(txn, name)
		if err != nil {
			return err
		}
		entry.Status = status
		entry.Updated = r.now()
		return r.put(txn, entry)
	})
}

func (r *BadgerRegistrar) Unregister(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(entryPrefix + name))
	})
}

// List returns all live entries sorted by key.
func (r *BadgerRegistrar) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []Entry
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("decode entry %s: %w", strings.TrimPrefix(string(item.Key()), entryPrefix), err)
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *BadgerRegistrar) Close() error {
	return r.db.Close()
}

func (r *BadgerRegistrar) get(txn *badger.Txn, name string) (Entry, error) {
	var entry Entry
	item, err := txn.Get([]byte(entryPrefix + name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return entry, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	if err != nil {
		return entry, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	})
	return entry, err
}

func (r *BadgerRegistrar) put(txn *badger.Txn, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", entry.Name, err)
	}

	e := badger.NewEntry([]byte(entryPrefix+entry.Name), data)
	if r.ttl > 0 {
		e = e.WithTTL(r.ttl)
	}
	return txn.SetEntry(e)
}
