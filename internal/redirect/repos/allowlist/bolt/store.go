// Package bolt persists the last good allow-list snapshot in a bbolt file so a
// restarted process starts from the previous list instead of an empty one.
package bolt

import (
	"encoding/binary"
	"errors"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/privacy-redirect/internal/redirect/domain"
	"github.com/haukened/privacy-redirect/internal/redirect/repos/allowlist"
)

var (
	bucketHosts = []byte("hosts")
	bucketRules = []byte("internal_redirect")
	bucketMeta  = []byte("meta")

	keyVersion = []byte("version")
	keyUpdated = []byte("updated")
)

// boltStore implements allowlist.Persister using bbolt.
type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string) (allowlist.Persister, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketHosts, bucketRules, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

// Save replaces the stored payload in a single transaction.
func (s *boltStore) Save(p domain.AllowListPayload, meta allowlist.Meta) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := rewriteList(tx, bucketHosts, p.Hosts); err != nil {
			return err
		}
		if err := rewriteList(tx, bucketRules, p.InternalRedirects); err != nil {
			return err
		}
		b := tx.Bucket(bucketMeta)
		if err := b.Put(keyVersion, u64(meta.Version)); err != nil {
			return err
		}
		return b.Put(keyUpdated, u64(uint64(meta.UpdatedUnix)))
	})
}

// Load returns the stored payload. ok is false when nothing was saved yet.
func (s *boltStore) Load() (domain.AllowListPayload, allowlist.Meta, bool, error) {
	var (
		p    domain.AllowListPayload
		meta allowlist.Meta
		ok   bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		m := tx.Bucket(bucketMeta)
		v := m.Get(keyVersion)
		if len(v) != 8 {
			return nil
		}
		ok = true
		meta.Version = binary.BigEndian.Uint64(v)
		if u := m.Get(keyUpdated); len(u) == 8 {
			meta.UpdatedUnix = int64(binary.BigEndian.Uint64(u))
		}
		p.Hosts = readList(tx.Bucket(bucketHosts))
		p.InternalRedirects = readList(tx.Bucket(bucketRules))
		return nil
	})
	return p, meta, ok, err
}

// rewriteList drops and recreates bucket, storing values under big-endian
// sequence keys so cursor order matches the original order.
func rewriteList(tx *bbolt.Tx, name []byte, values []string) error {
	if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
		return err
	}
	b, err := tx.CreateBucket(name)
	if err != nil {
		return err
	}
	for i, v := range values {
		if err := b.Put(u64(uint64(i)), []byte(v)); err != nil {
			return err
		}
	}
	return nil
}

func readList(b *bbolt.Bucket) []string {
	out := []string{}
	if b == nil {
		return out
	}
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		out = append(out, string(v))
	}
	return out
}

func u64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

var _ allowlist.Persister = (*boltStore)(nil)
