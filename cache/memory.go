package cache

import (
	"sync"
)

type memPartition struct {
	name    string
	entries map[string]Entry
}

// MemStorage keeps partitions in process memory.
type MemStorage struct {
	mutex      *sync.RWMutex
	partitions []*memPartition
}

func NewMemStorage() *MemStorage {
	return &MemStorage{mutex: &sync.RWMutex{}}
}

func (m *MemStorage) find(name string) *memPartition {
	for _, p := range m.partitions {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (m *MemStorage) openLocked(name string) *memPartition {
	if p := m.find(name); p != nil {
		return p
	}
	p := &memPartition{name: name, entries: make(map[string]Entry)}
	m.partitions = append(m.partitions, p)
	return p
}

func (m *MemStorage) Open(partition string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.openLocked(partition)
	return nil
}

func (m *MemStorage) Put(partition string, entry Entry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entry.Partition = ""
	m.openLocked(partition).entries[entry.Key] = entry
	return nil
}

func (m *MemStorage) PutAll(partition string, entries []Entry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	p := m.openLocked(partition)
	for _, entry := range entries {
		entry.Partition = ""
		p.entries[entry.Key] = entry
	}
	return nil
}

func (m *MemStorage) Get(partition, key string) (Entry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	p := m.find(partition)
	if p == nil {
		return Entry{}, false, nil
	}
	entry, ok := p.entries[key]
	if ok {
		entry.Partition = partition
	}
	return entry, ok, nil
}

func (m *MemStorage) Match(key string) (Entry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, p := range m.partitions {
		if entry, ok := p.entries[key]; ok {
			entry.Partition = p.name
			return entry, true, nil
		}
	}
	return Entry{}, false, nil
}

func (m *MemStorage) Partitions() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.partitions))
	for _, p := range m.partitions {
		names = append(names, p.name)
	}
	return names, nil
}

func (m *MemStorage) Keys(partition string, cb func(string)) error {
	m.mutex.RLock()
	p := m.find(partition)
	if p == nil {
		m.mutex.RUnlock()
		return ErrorNoPartition
	}
	keys := make([]string, 0, len(p.entries))
	for key := range p.entries {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m *MemStorage) Delete(partition string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i, p := range m.partitions {
		if p.name == partition {
			m.partitions = append(m.partitions[:i], m.partitions[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemStorage) Close() error {
	return nil
}
