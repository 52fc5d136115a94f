package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// KVStore is the shared BoltDB file backing every plugin's key-value
// store, at <vault>/artifacts/plugins.db. Each plugin gets its own bucket;
// one plugin can never read another's keys.
type KVStore struct {
	db *bolt.DB
}

// OpenKV opens (or creates) the plugin KV database at dbPath.
func OpenKV(dbPath string) (*KVStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create plugin kv dir: %w", err)
	}
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin kv store: %w", err)
	}
	return &KVStore{db: db}, nil
}

// Close closes the database.
func (s *KVStore) Close() error {
	return s.db.Close()
}

// ForPlugin returns the KV view scoped to the named plugin's bucket.
func (s *KVStore) ForPlugin(name string) *PluginKV {
	return &PluginKV{db: s.db, bucket: []byte(name)}
}

// PluginKV is one plugin's slice of the store. It implements sdk.KV.
type PluginKV struct {
	db     *bolt.DB
	bucket []byte
}

// Get returns the value for key, or nil when absent.
func (kv *PluginKV) Get(key string) ([]byte, error) {
	var out []byte
	err := kv.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(kv.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return out, nil
}

// Put upserts key to value.
func (kv *PluginKV) Put(key string, value []byte) error {
	err := kv.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(kv.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (kv *PluginKV) Delete(key string) error {
	err := kv.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(kv.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}
