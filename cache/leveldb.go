package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	partitionPrefix = "p:"
	entryPrefix     = "e:"
	keySeparator    = "\x00"
)

// LevelDBStorage keeps partitions in a LevelDB database.
// Partition markers live under "p:<name>" (value: creation sequence),
// entries under "e:<name>\x00<key>" (value: gob encoded storedEntry).
type LevelDBStorage struct {
	db         *leveldb.DB
	writeMutex *sync.Mutex
}

type storedEntry struct {
	StoredAt int64
	Bytes    []byte
}

// NewLevelDBStorage opens the database at path.
// An empty path opens a database kept in memory.
func NewLevelDBStorage(path string) (*LevelDBStorage, error) {
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
		return nil, err
	}
	return &LevelDBStorage{db: db, writeMutex: &sync.Mutex{}}, nil
}

func partitionKey(partition string) []byte {
	return []byte(partitionPrefix + partition)
}

func entryKeyPrefix(partition string) []byte {
	return []byte(entryPrefix + partition + keySeparator)
}

func entryKey(partition, key string) []byte {
	return append(entryKeyPrefix(partition), key...)
}

type ldbPartition struct {
	name string
	seq  uint64
}

func (l *LevelDBStorage) partitions() ([]ldbPartition, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(partitionPrefix)), nil)
	defer it.Release()
	parts := make([]ldbPartition, 0)
	for it.Next() {
		name := string(bytes.TrimPrefix(it.Key(), []byte(partitionPrefix)))
		var seq uint64
		if len(it.Value()) == 8 {
			seq = binary.BigEndian.Uint64(it.Value())
		}
		parts = append(parts, ldbPartition{name: name, seq: seq})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].seq < parts[j].seq
	})
	return parts, nil
}

// openInBatch adds the partition marker to the batch if the partition does not exist.
// The write mutex must be held.
func (l *LevelDBStorage) openInBatch(batch *leveldb.Batch, partition string) error {
	if ok, err := l.db.Has(partitionKey(partition), nil); err != nil || ok {
		return err
	}
	parts, err := l.partitions()
	if err != nil {
		return err
	}
	var next uint64 = 1
	if len(parts) > 0 {
		next = parts[len(parts)-1].seq + 1
	}
	seq := make([]byte, 8)
	binary.BigEndian.PutUint64(seq, next)
	batch.Put(partitionKey(partition), seq)
	return nil
}

func (l *LevelDBStorage) Open(partition string) error {
	return l.PutAll(partition, nil)
}

func (l *LevelDBStorage) Put(partition string, entry Entry) error {
	return l.PutAll(partition, []Entry{entry})
}

func (l *LevelDBStorage) PutAll(partition string, entries []Entry) error {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	batch := new(leveldb.Batch)
	if err := l.openInBatch(batch, partition); err != nil {
		return err
	}
	for _, entry := range entries {
		b, err := encodeGob(storedEntry{StoredAt: entry.StoredAt.UnixMilli(), Bytes: entry.Bytes})
		if err != nil {
			return err
		}
		batch.Put(entryKey(partition, entry.Key), b)
	}
	if batch.Len() == 0 {
		return nil
	}
	return l.db.Write(batch, nil)
}

func (l *LevelDBStorage) Get(partition, key string) (Entry, bool, error) {
	b, err := l.db.Get(entryKey(partition, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var se storedEntry
	if err := decodeGob(b, &se); err != nil {
		return Entry{}, false, err
	}
	return Entry{
		Partition: partition,
		Key:       key,
		StoredAt:  time.UnixMilli(se.StoredAt),
		Bytes:     se.Bytes,
	}, true, nil
}

func (l *LevelDBStorage) Match(key string) (Entry, bool, error) {
	parts, err := l.partitions()
	if err != nil {
		return Entry{}, false, err
	}
	for _, p := range parts {
		if entry, ok, err := l.Get(p.name, key); err != nil || ok {
			return entry, ok, err
		}
	}
	return Entry{}, false, nil
}

func (l *LevelDBStorage) Partitions() ([]string, error) {
	parts, err := l.partitions()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, p.name)
	}
	return names, nil
}

func (l *LevelDBStorage) Keys(partition string, cb func(string)) error {
	if ok, err := l.db.Has(partitionKey(partition), nil); err != nil {
		return err
	} else if !ok {
		return ErrorNoPartition
	}
	prefix := entryKeyPrefix(partition)
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	keys := make([]string, 0)
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (l *LevelDBStorage) Delete(partition string) (bool, error) {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	ok, err := l.db.Has(partitionKey(partition), nil)
	if err != nil || !ok {
		return false, err
	}
	batch := new(leveldb.Batch)
	it := l.db.NewIterator(util.BytesPrefix(entryKeyPrefix(partition)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	batch.Delete(partitionKey(partition))
	return true, l.db.Write(batch, nil)
}

func (l *LevelDBStorage) Close() error {
	return l.db.Close()
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
