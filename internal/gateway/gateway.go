// Package gateway fetches publisher content over HTTP. The publisher's
// content lives on a private storage-network swarm the local node cannot
// discover via peer-routing, so it must be injected by fetch-then-add.
// Grounded on the teacher's core/storage.go Retrieve, which streams a GET
// and checks the status code before reading the body.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrTooLarge is returned when the declared or observed size exceeds the
// configured ceiling.
type ErrTooLarge struct {
	Limit    int64
	Declared int64
}

func (e ErrTooLarge) Error() string {
	return fmt.Sprintf("content exceeds max_content_size: limit=%d declared=%d", e.Limit, e.Declared)
}

// Client fetches content from a publisher's gateway.
type Client struct {
	http *http.Client
}

// New constructs a gateway Client with the given per-request timeout.
func New(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Fetch streams GET {gatewayBase}/ipfs/{cid}, aborting before reading any
// body bytes if Content-Length exceeds maxBytes, and aborting mid-stream if
// the body exceeds maxBytes despite a missing or understated header.
func (c *Client) Fetch(ctx context.Context, gatewayBase, cid string, maxBytes int64) ([]byte, error) {
	url := fmt.Sprintf("%s/ipfs/%s", gatewayBase, cid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("gateway fetch %d: %s", resp.StatusCode, string(b))
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if declared, err := strconv.ParseInt(cl, 10, 64); err == nil && declared > maxBytes {
			return nil, ErrTooLarge{Limit: maxBytes, Declared: declared}
		}
	}

	limited := io.LimitReader(resp.Body, maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("gateway fetch: read body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrTooLarge{Limit: maxBytes, Declared: int64(len(data))}
	}
	return data, nil
}

// HeadSize performs a HEAD request and returns the declared Content-Length,
// or -1 if the gateway did not provide one. Used by the offer filter's
// content_too_large check before any fetch is attempted.
func (c *Client) HeadSize(ctx context.Context, gatewayBase, cid string) (int64, error) {
	url := fmt.Sprintf("%s/ipfs/%s", gatewayBase, cid)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return -1, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return -1, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return -1, fmt.Errorf("gateway head %d", resp.StatusCode)
	}
	cl := resp.Header.Get("Content-Length")
	if cl == "" {
		return -1, nil
	}
	n, err := strconv.ParseInt(cl, 10, 64)
	if err != nil {
		return -1, nil
	}
	return n, nil
}
