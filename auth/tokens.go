package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/tidwall/buntdb"
)

const (
	memoryStore = ":memory:"
	tokenPrefix = "token:"
	SessionKey  = "session"
	lockSuffix  = ".lock"
)

var ErrStoreLocked = errors.New("token store is locked by another process")

// TokenStore keeps access tokens between runs. A file backed store is locked with a lock file next to it, so only
// one process at a time uses it.
type TokenStore struct {
	db   *buntdb.DB
	lock *flock.Flock
}

// OpenTokenStore opens the store at path, ":memory:" keeps the tokens in memory only.
func OpenTokenStore(path string) (*TokenStore, error) {
	if path == "" {
		path = memoryStore
	}
	var lock *flock.Flock
	if path != memoryStore {
		lock = flock.New(path + lockSuffix)
		ok, err := lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrStoreLocked
		}
	}
	db, err := buntdb.Open(path)
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, err
	}
	return &TokenStore{db: db, lock: lock}, nil
}

// Save stores token under key, it expires after ttl (never for ttl <= 0).
func (s *TokenStore) Save(key, token string, ttl time.Duration) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		var opts *buntdb.SetOptions
		if ttl > 0 {
			opts = &buntdb.SetOptions{Expires: true, TTL: ttl}
		}
		_, _, err := tx.Set(tokenPrefix+key, token, opts)
		return err
	})
}

// Load returns the token stored under key, or "" if there is none.
func (s *TokenStore) Load(key string) (string, error) {
	token := ""
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(tokenPrefix + key)
		if err != nil {
			return err
		}
		token = val
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	return token, nil
}

func (s *TokenStore) Delete(key string) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(tokenPrefix + key)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil
	}
	return err
}

func (s *TokenStore) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return err
}
