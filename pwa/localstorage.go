package pwa

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

const (
	// InstalledKey records that the user installed the application.
	InstalledKey = "pwa-installed"
	// ActiveVersionKey records the controller version serving requests.
	ActiveVersionKey = "sw-active-version"
)

// LocalStorage is a small durable string store.
type LocalStorage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// LevelDBLocalStorage keeps items in a LevelDB database.
type LevelDBLocalStorage struct {
	db *leveldb.DB
}

// OpenLocalStorage opens the database at path. An empty path keeps items in memory.
func OpenLocalStorage(path string) (*LevelDBLocalStorage, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open local storage: %w", err)
	}
	return &LevelDBLocalStorage{db: db}, nil
}

func (s *LevelDBLocalStorage) GetItem(key string) (string, bool, error) {
	value, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(value), true, nil
}

func (s *LevelDBLocalStorage) SetItem(key, value string) error {
	return s.db.Put([]byte(key), []byte(value), nil)
}

func (s *LevelDBLocalStorage) RemoveItem(key string) error {
	return s.db.Delete([]byte(key), nil)
}

func (s *LevelDBLocalStorage) Close() error {
	return s.db.Close()
}

// VersionRegistry persists the active controller version in local storage.
type VersionRegistry struct {
	Storage LocalStorage
}

func (r VersionRegistry) ActiveVersion() (string, error) {
	version, _, err := r.Storage.GetItem(ActiveVersionKey)
	return version, err
}

func (r VersionRegistry) SetActiveVersion(version string) error {
	return r.Storage.SetItem(ActiveVersionKey, version)
}
