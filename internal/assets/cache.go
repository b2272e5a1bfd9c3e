// Package assets implements the static asset cache: named cache generations
// of dumped HTTP responses, primed from a manifest at install and garbage
// collected at activation.
package assets

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// ErrNotCacheable is returned by Put for responses the cache never stores.
var ErrNotCacheable = errors.New("response is not cacheable")

// Storage holds named caches. With an empty directory caches live in
// memory and disappear with the process.
type Storage struct {
	dir string

	mu     sync.Mutex
	caches map[string]*Cache
}

// NewStorage returns a storage rooted at dir ("" for memory only).
func NewStorage(dir string) *Storage {
	return &Storage{dir: dir, caches: make(map[string]*Cache)}
}

var cacheName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Open returns the cache called name, creating it if needed.
func (s *Storage) Open(name string) (*Cache, error) {
	if !cacheName.MatchString(name) {
		return nil, fmt.Errorf("invalid cache name %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[name]; ok {
		return c, nil
	}

	var backing httpcache.Cache
	if s.dir == "" {
		backing = httpcache.NewMemoryCache()
	} else {
		path := filepath.Join(s.dir, name)
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("create cache %s: %w", name, err)
		}
		backing = diskcache.New(path)
	}
	c := &Cache{name: name, backing: backing}
	s.caches[name] = c
	return c, nil
}

// Keys lists the names of every cache, including ones left on disk by a
// previous process.
func (s *Storage) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(s.caches))
	for name := range s.caches {
		seen[name] = true
	}
	if s.dir != "" {
		entries, err := os.ReadDir(s.dir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() && cacheName.MatchString(e.Name()) {
				seen[e.Name()] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the cache called name and reports whether it existed.
func (s *Storage) Delete(name string) (bool, error) {
	if !cacheName.MatchString(name) {
		return false, fmt.Errorf("invalid cache name %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.caches[name]
	delete(s.caches, name)
	if s.dir == "" {
		return existed, nil
	}
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err == nil {
		existed = true
	}
	if err := os.RemoveAll(path); err != nil {
		return existed, err
	}
	return existed, nil
}

// Cache is one named cache generation.
type Cache struct {
	name    string
	backing httpcache.Cache
}

func (c *Cache) Name() string { return c.name }

// Match returns the stored response for req, or nil when there is none.
func (c *Cache) Match(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return nil, nil
	}
	resp, err := httpcache.CachedResponse(c.backing, req)
	if err != nil {
		return nil, fmt.Errorf("read cached %s: %w", req.URL, err)
	}
	return resp, nil
}

// Put stores a copy of resp under req. resp.Body stays readable.
func (c *Cache) Put(req *http.Request, resp *http.Response) error {
	if req.Method != http.MethodGet {
		return fmt.Errorf("%w: method %s", ErrNotCacheable, req.Method)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.StatusCode == http.StatusPartialContent {
		return fmt.Errorf("%w: status %d", ErrNotCacheable, resp.StatusCode)
	}
	if resp.ProtoMajor == 0 {
		// responses built in memory (tests, mocks) carry no protocol version
		resp.Proto, resp.ProtoMajor, resp.ProtoMinor = "HTTP/1.1", 1, 1
	}
	dump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return fmt.Errorf("dump %s: %w", req.URL, err)
	}
	c.backing.Set(cacheKey(req), dump)
	return nil
}

// cacheKey matches the key httpcache.CachedResponse looks up.
func cacheKey(req *http.Request) string {
	if req.Method == http.MethodGet {
		return req.URL.String()
	}
	return req.Method + " " + req.URL.String()
}
