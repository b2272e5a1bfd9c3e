package assets

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/briangreenhill/offlinesw/internal/model"
)

var fonts = []string{
	"https://fonts.gstatic.com/s/roboto/v18/KFOmCnqEu92Fr1Mu4mxKKTU1Kg.woff2",
	"https://fonts.gstatic.com/s/roboto/v18/KFOlCnqEu92Fr1MmEU9fBBc4AMP6lQ.woff2",
}

// DefaultManifest lists the pages, scripts, stylesheet, restaurant images
// (jpg and webp) and web fonts of the front-end.
func DefaultManifest() []string {
	m := []string{
		"/",
		"/index.html",
		"/restaurant.html",
		"/js/main.js",
		"/js/dbhelper.js",
		"/js/restaurant_info.js",
		"/css/styles.css",
	}
	for i := 1; i <= 10; i++ {
		r := model.Restaurant{Photograph: strconv.Itoa(i)}
		m = append(m, model.ImageURL(r, "jpg"), model.ImageURL(r, "webp"))
	}
	return append(m, fonts...)
}

// Resolve turns manifest entries into absolute URLs against base.
func Resolve(base *url.URL, manifest []string) ([]*url.URL, error) {
	out := make([]*url.URL, 0, len(manifest))
	seen := make(map[string]bool, len(manifest))
	for _, raw := range manifest {
		ref, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", raw, err)
		}
		u := base.ResolveReference(ref)
		if seen[u.String()] {
			continue
		}
		seen[u.String()] = true
		out = append(out, u)
	}
	return out, nil
}
