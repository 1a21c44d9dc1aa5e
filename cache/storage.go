package cache

import (
	"errors"
	"time"
)

var ErrorNoPartition = errors.New("partition does not exist")

// Storage holds named cache partitions.
// Each partition maps a request key to the bytes of a stored response.
// Writing a key replaces whatever the partition held for it (last write wins).
//
// Implementations must be thread-safe!
type Storage interface {
	// Open creates the partition if it does not exist yet.
	Open(partition string) error
	// Put stores the entry in the partition, creating the partition if needed.
	Put(partition string, entry Entry) error
	// PutAll stores all entries in the partition in a single atomic write:
	// either every entry is stored or none is.
	PutAll(partition string, entries []Entry) error
	// Get returns the entry for the key in the given partition.
	// The boolean is false if the partition or the key does not exist.
	Get(partition, key string) (Entry, bool, error)
	// Match looks the key up in every partition, in partition creation order,
	// and returns the first entry found.
	Match(key string) (Entry, bool, error)
	// Partitions returns the names of all existing partitions in creation order.
	Partitions() ([]string, error)
	// Keys calls the callback for each key in the partition.
	Keys(partition string, cb func(string)) error
	// Delete removes the partition and everything in it.
	// It returns false if the partition did not exist.
	Delete(partition string) (bool, error)
	// Close releases the underlying resources.
	Close() error
}

type Entry struct {
	// Partition the entry was read from. Ignored on writes.
	Partition string
	Key       string
	StoredAt  time.Time
	Bytes     []byte
}
