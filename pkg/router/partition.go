package router

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// CachedResponse is a stored request/response pair.
type CachedResponse struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// Snapshot reads resp into a CachedResponse. The body is consumed and
// closed; resp.Body is replaced with a reader over the same bytes.
func Snapshot(req *http.Request, resp *http.Response, now time.Time) (*CachedResponse, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	var body []byte
	if resp.Body != nil {
		b, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		body = b
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	h := resp.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return &CachedResponse{
		Method:     method,
		URL:        canonicalURL(req),
		StatusCode: resp.StatusCode,
		Header:     h,
		Body:       body,
		StoredAt:   now,
	}, nil
}

// Response builds a fresh *http.Response for req.
func (c *CachedResponse) Response(req *http.Request) *http.Response {
	h := c.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Content-Length", strconv.Itoa(len(c.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", c.StatusCode, http.StatusText(c.StatusCode)),
		StatusCode:    c.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

// OriginTime returns the Date header, falling back to StoredAt when it is
// missing or unparseable.
func (c *CachedResponse) OriginTime() time.Time {
	if d := c.Header.Get("Date"); d != "" {
		if t, err := http.ParseTime(d); err == nil {
			return t
		}
	}
	return c.StoredAt
}

func (c *CachedResponse) clone() *CachedResponse {
	cp := *c
	cp.Header = c.Header.Clone()
	return &cp
}

// Partition holds responses keyed by request identity.
type Partition interface {
	Get(key string) (*CachedResponse, bool, error)
	Put(key string, resp *CachedResponse) error
	Delete(key string) error
	Keys() ([]string, error)
}

// PartitionStore manages named partitions.
type PartitionStore interface {
	// Open returns the named partition, creating it if needed
	Open(name string) (Partition, error)
	Delete(name string) error
	Names() ([]string, error)
}

// MemoryStore is an in-process PartitionStore.
type MemoryStore struct {
	mu         sync.Mutex
	partitions map[string]*memoryPartition
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: make(map[string]*memoryPartition)}
}

func (s *MemoryStore) Open(name string) (Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[name]
	if !ok {
		p = &memoryPartition{entries: make(map[string]*CachedResponse)}
		s.partitions[name] = p
	}
	return p, nil
}

func (s *MemoryStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, name)
	return nil
}

// Names returns partition names in sorted order.
func (s *MemoryStore) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.partitions))
	for n := range s.partitions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

type memoryPartition struct {
	mu      sync.Mutex
	entries map[string]*CachedResponse
}

func (p *memoryPartition) Get(key string) (*CachedResponse, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.entries[key]
	if !ok {
		return nil, false, nil
	}
	return c.clone(), true, nil
}

// Put overwrites any existing entry; last writer wins.
func (p *memoryPartition) Put(key string, resp *CachedResponse) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[key] = resp.clone()
	return nil
}

func (p *memoryPartition) Delete(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
	return nil
}

func (p *memoryPartition) Keys() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// RequestKey identifies a request within a partition: method and URL
// without fragment.
func RequestKey(req *http.Request) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + canonicalURL(req)
}

func canonicalURL(req *http.Request) string {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
