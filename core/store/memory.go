package store

import (
	"bytes"
	"slices"
	"strings"
	"sync"
)

// memoryKV is an in-process kvBackend.
type memoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() Store {
	return newKVStore(&memoryKV{data: make(map[string][]byte)})
}

func (m *memoryKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, errKeyMissing
	}
	return bytes.Clone(v), nil
}

func (m *memoryKV) Set(key, value []byte) error {
	m.mu.Lock()
	m.data[string(key)] = bytes.Clone(value)
	m.mu.Unlock()
	return nil
}

func (m *memoryKV) Delete(key []byte) error {
	m.mu.Lock()
	delete(m.data, string(key))
	m.mu.Unlock()
	return nil
}

func (m *memoryKV) Scan(prefix []byte, fn func(value []byte) error) error {
	m.mu.RLock()
	p := string(prefix)
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = m.data[k]
	}
	m.mu.RUnlock()

	for _, v := range values {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryKV) Close() error { return nil }
