package engine

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"sort"
	"sync"

	wasmcache "github.com/wippyai/wasm-cache"
)

// MockBackend returns an in-memory backend for tools and tests.
func MockBackend() wasmcache.Backend {
	return wasmcache.Backend{
		Storage: NewMockStorage(),
		API:     MockAPI{},
		Querier: MockQuerier{},
	}
}

// MockStorage is a sorted in-memory key-value store. Iterators work on a
// snapshot taken by Scan.
type MockStorage struct {
	mu        sync.Mutex
	data      map[string][]byte
	iterators map[uint32]*mockIterator
	nextID    uint32
}

type mockIterator struct {
	keys []string
	pos  int
}

func NewMockStorage() *MockStorage {
	return &MockStorage{
		data:      make(map[string][]byte),
		iterators: make(map[uint32]*mockIterator),
	}
}

func (s *MockStorage) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, v...), nil
}

func (s *MockStorage) Set(key, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = append([]byte{}, value...)
	return nil
}

func (s *MockStorage) Remove(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *MockStorage) Scan(start, end []byte, order wasmcache.Order) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if start != nil && bytes.Compare([]byte(k), start) < 0 {
			continue
		}
		if end != nil && bytes.Compare([]byte(k), end) >= 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if order == wasmcache.Descending {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	s.nextID++
	s.iterators[s.nextID] = &mockIterator{keys: keys}
	return s.nextID, nil
}

func (s *MockStorage) Next(id uint32) ([]byte, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.iterators[id]
	if !ok {
		return nil, nil, fmt.Errorf("iterator %d does not exist", id)
	}
	for it.pos < len(it.keys) {
		k := it.keys[it.pos]
		it.pos++
		if v, ok := s.data[k]; ok {
			return []byte(k), append([]byte{}, v...), nil
		}
	}
	return nil, nil, nil
}

// Len returns the number of stored keys.
func (s *MockStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// MockAPI computes hashes in process.
type MockAPI struct{}

func (MockAPI) Sha1Calculate(data []byte) ([20]byte, error) {
	return sha1.Sum(data), nil
}

// MockQuerier answers every query with Handler, or echoes the request when
// Handler is nil.
type MockQuerier struct {
	Handler func(request []byte) ([]byte, error)
}

func (q MockQuerier) QueryRaw(request []byte, _ uint64) ([]byte, error) {
	if q.Handler != nil {
		return q.Handler(request)
	}
	return append([]byte{}, request...), nil
}

var (
	_ wasmcache.Storage = (*MockStorage)(nil)
	_ wasmcache.API     = MockAPI{}
	_ wasmcache.Querier = MockQuerier{}
)
