package page

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/briangreenhill/offlinesw/internal/errs"
	"github.com/briangreenhill/offlinesw/internal/protocol"
)

// Client talks to the worker's control endpoints.
type Client struct {
	http *http.Client
	base *url.URL
}

func NewClient(base string, h *http.Client) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("worker url: %w", err)
	}
	if h == nil {
		h = http.DefaultClient
	}
	return &Client{http: h, base: u}, nil
}

// Post sends a pending write. Negative acks are returned, not turned into errors.
func (c *Client) Post(ctx context.Context, m protocol.Message) (protocol.Ack, error) {
	var ack protocol.Ack
	err := c.call(ctx, http.MethodPost, "/_sw/message", m, &ack, http.StatusOK, http.StatusBadRequest, http.StatusInternalServerError)
	return ack, err
}

func (c *Client) Install(ctx context.Context) (int, error) {
	var out struct {
		Cached int `json:"cached"`
	}
	err := c.call(ctx, http.MethodPost, "/_sw/install", nil, &out, http.StatusOK)
	return out.Cached, err
}

func (c *Client) Activate(ctx context.Context) ([]string, error) {
	var out struct {
		Deleted []string `json:"deleted"`
	}
	err := c.call(ctx, http.MethodPost, "/_sw/activate", nil, &out, http.StatusOK)
	return out.Deleted, err
}

// Sync sends a sync tag and reports whether a replay was scheduled.
func (c *Client) Sync(ctx context.Context, tag string) (bool, error) {
	var out struct {
		Scheduled bool `json:"scheduled"`
	}
	err := c.call(ctx, http.MethodPost, "/_sw/sync", map[string]string{"tag": tag}, &out, http.StatusOK, http.StatusAccepted)
	return out.Scheduled, err
}

// Pending returns the raw pending listing.
func (c *Client) Pending(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.call(ctx, http.MethodGet, "/_sw/pending", nil, &out, http.StatusOK)
	return out, err
}

func (c *Client) call(ctx context.Context, method, p string, in, out any, accept ...int) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errs.Parse("encode "+p, err)
		}
		body = bytes.NewReader(b)
	}
	u := c.base.JoinPath(p)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Network(method+" "+p, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Network("read "+p, err)
	}
	ok := false
	for _, s := range accept {
		ok = ok || resp.StatusCode == s
	}
	if !ok {
		return fmt.Errorf("%s %s: %s: %s", method, p, resp.Status, strings.TrimSpace(string(b)))
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errs.Parse("decode "+p, err)
	}
	return nil
}
