// Package offline keeps the application shell available without network
// access: a named cache store of response generations, and a manager that
// installs, activates and serves one generation cache-first.
package offline

import (
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/mohametBa/UniversMurid-sub001/internal/persist"
)

// ErrNoSuchCache is returned when writing into a generation that was never opened.
var ErrNoSuchCache = errors.New("cache generation not found")

// Response is a cached response, stored verbatim.
type Response struct {
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body"`
}

// CacheStore is a set of named cache generations, each mapping a URL to a response.
type CacheStore interface {
	// Open creates the named generation if it does not exist.
	Open(name string) error
	// Keys lists generation names.
	Keys() ([]string, error)
	// Delete removes a generation and reports whether it existed.
	Delete(name string) (bool, error)
	// Match looks up url in the named generation.
	Match(name, url string) (Response, bool, error)
	// Put stores resp under url in the named generation.
	Put(name, url string, resp Response) error
}

// MemCacheStore is a thread-safe CacheStore. With a persister attached each
// generation is mirrored to one JSON document, written under the store lock
// so a deleted generation can never be resurrected by a late write.
type MemCacheStore struct {
	mu sync.RWMutex
	// Structure: [generation][url]response
	data      map[string]map[string]Response
	persister *persist.Persistence
}

var _ CacheStore = (*MemCacheStore)(nil)

// NewMemCacheStore initializes a store from previously persisted data.
func NewMemCacheStore(initialData map[string]map[string]Response, p *persist.Persistence) *MemCacheStore {
	if initialData == nil {
		initialData = make(map[string]map[string]Response)
	}
	for name, entries := range initialData {
		if entries == nil {
			initialData[name] = make(map[string]Response)
		}
	}
	return &MemCacheStore{data: initialData, persister: p}
}

// OpenCacheDir loads the generations persisted in dir.
func OpenCacheDir(dir string) (*MemCacheStore, error) {
	p, err := persist.NewPersistence(dir)
	if err != nil {
		return nil, err
	}
	data, err := persist.LoadAll[map[string]Response](p)
	if err != nil {
		return nil, err
	}
	return NewMemCacheStore(data, p), nil
}

// save mirrors one generation to disk. Must hold m.mu.Lock.
func (m *MemCacheStore) save(name string) error {
	if m.persister == nil {
		return nil
	}
	return m.persister.Save(name, m.data[name])
}

func (m *MemCacheStore) Open(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[name]; ok {
		return nil
	}
	m.data[name] = make(map[string]Response)
	return m.save(name)
}

func (m *MemCacheStore) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]string, 0, len(m.data))
	for name := range m.data {
		list = append(list, name)
	}
	sort.Strings(list)
	return list, nil
}

func (m *MemCacheStore) Delete(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[name]; !ok {
		return false, nil
	}
	delete(m.data, name)
	if m.persister != nil {
		if err := m.persister.Remove(name); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (m *MemCacheStore) Match(name, url string) (Response, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	gen, ok := m.data[name]
	if !ok {
		return Response{}, false, nil
	}
	resp, ok := gen[url]
	if !ok {
		return Response{}, false, nil
	}
	return resp.clone(), true, nil
}

func (m *MemCacheStore) Put(name, url string, resp Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	gen, ok := m.data[name]
	if !ok {
		return ErrNoSuchCache
	}
	gen[url] = resp.clone()
	return m.save(name)
}

// clone copies header and body so cached entries stay immutable.
func (r Response) clone() Response {
	out := Response{Status: r.Status, Header: r.Header.Clone()}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}
