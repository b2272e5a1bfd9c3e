package assets

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Doer issues HTTP requests; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Install fetches every URL and stores the responses in cache. Like the
// browser's cache.addAll it is all or nothing: if any fetch fails or returns
// a non-2xx status, nothing is stored.
func Install(ctx context.Context, cache *Cache, client Doer, urls []*url.URL, concurrency int) (int, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	type fetched struct {
		req  *http.Request
		dump []byte
	}
	results := make([]fetched, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, u := range urls {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", u, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("fetch %s: %s", u, resp.Status)
			}
			if resp.ProtoMajor == 0 {
				resp.Proto, resp.ProtoMajor, resp.ProtoMinor = "HTTP/1.1", 1, 1
			}
			dump, err := httputil.DumpResponse(resp, true)
			if err != nil {
				return fmt.Errorf("read %s: %w", u, err)
			}
			results[i] = fetched{req: req, dump: dump}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for _, f := range results {
		resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(f.dump)), f.req)
		if err != nil {
			return 0, fmt.Errorf("replay %s: %w", f.req.URL, err)
		}
		err = cache.Put(f.req, resp)
		resp.Body.Close()
		if err != nil {
			return 0, err
		}
	}
	return len(results), nil
}

// Activate deletes every cache whose name starts with prefix and is not the
// current generation. It returns the deleted names, sorted.
func Activate(ctx context.Context, storage *Storage, current, prefix string) ([]string, error) {
	names, err := storage.Keys()
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}

	var (
		mu      sync.Mutex
		deleted []string
	)
	g, _ := errgroup.WithContext(ctx)
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) || name == current {
			continue
		}
		g.Go(func() error {
			existed, err := storage.Delete(name)
			if err != nil {
				return fmt.Errorf("delete cache %s: %w", name, err)
			}
			if existed {
				mu.Lock()
				deleted = append(deleted, name)
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	sort.Strings(deleted)
	return deleted, err
}
