// Package kubo is the storage-node RPC client: the local content-addressed
// storage node the daemon injects publisher content into and pins from.
// Grounded on the teacher's core/storage.go Storage.Pin/Retrieve, which
// POSTs to an IPFS-gateway-shaped HTTP API with a *http.Client and decodes
// a small {Hash,Size} JSON envelope; this client generalizes that to the
// full RPC surface the daemon needs (add, pin/add, pin/ls, pin/rm,
// findprovs, swarm/connect, block/get, cat, id).
package kubo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// AddParams are the publisher's fixed content-addressing parameters. They
// must be reproduced exactly or the resulting cid will not match the
// offer.
var AddParams = map[string]string{
	"wrap-with-directory": "false",
	"chunker":              "size-262144",
	"raw-leaves":           "false",
	"cid-version":          "0",
	"hash":                 "sha2-256",
}

// Client talks to one local kubo-compatible RPC endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client bound to baseURL (e.g. http://127.0.0.1:5001),
// which must be reachable on localhost-only binding.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// AddResult is the decoded /api/v0/add response.
type AddResult struct {
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Add uploads data with the fixed AddParams and returns the resulting cid.
func (c *Client) Add(ctx context.Context, data []byte) (AddResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "content")
	if err != nil {
		return AddResult{}, fmt.Errorf("kubo add: build multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return AddResult{}, fmt.Errorf("kubo add: write body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return AddResult{}, fmt.Errorf("kubo add: close multipart: %w", err)
	}

	q := url.Values{}
	for k, v := range AddParams {
		q.Set(k, v)
	}
	endpoint := c.baseURL + "/api/v0/add?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return AddResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return AddResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return AddResult{}, fmt.Errorf("kubo add %d: %s", resp.StatusCode, string(b))
	}
	var out AddResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return AddResult{}, fmt.Errorf("kubo add: decode: %w", err)
	}
	return out, nil
}

// PinAdd pins cid locally.
func (c *Client) PinAdd(ctx context.Context, cidStr string) error {
	return c.post(ctx, fmt.Sprintf("/api/v0/pin/add?arg=%s", url.QueryEscape(cidStr)))
}

// PinRM unpins cid locally. Used only for UNPIN events when the daemon is
// configured to unpin on them; the default policy is to keep pinning.
func (c *Client) PinRM(ctx context.Context, cidStr string) error {
	return c.post(ctx, fmt.Sprintf("/api/v0/pin/rm?arg=%s", url.QueryEscape(cidStr)))
}

// PinLS reports whether cid is currently in the pinned set.
func (c *Client) PinLS(ctx context.Context, cidStr string) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v0/pin/ls?arg=%s", c.baseURL, url.QueryEscape(cidStr))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	var out struct {
		Keys map[string]interface{} `json:"Keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("kubo pin/ls: decode: %w", err)
	}
	_, ok := out.Keys[cidStr]
	return ok, nil
}

// FindProvs streams the provider set for cid, bounded by numProviders.
func (c *Client) FindProvs(ctx context.Context, cidStr string, numProviders int) ([]string, error) {
	endpoint := fmt.Sprintf("%s/api/v0/routing/findprovs?arg=%s&num-providers=%d",
		c.baseURL, url.QueryEscape(cidStr), numProviders)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
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
		return nil, fmt.Errorf("kubo findprovs %d: %s", resp.StatusCode, string(b))
	}

	var providers []string
	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		var line struct {
			Responses []struct {
				ID string `json:"ID"`
			} `json:"Responses"`
		}
		if err := dec.Decode(&line); err != nil {
			break
		}
		for _, r := range line.Responses {
			providers = append(providers, r.ID)
		}
	}
	return providers, nil
}

// SwarmConnect dials a peer by multiaddr.
func (c *Client) SwarmConnect(ctx context.Context, multiaddr string) error {
	return c.post(ctx, fmt.Sprintf("/api/v0/swarm/connect?arg=%s", url.QueryEscape(multiaddr)))
}

// BlockGet fetches the raw block for cid — the bitswap possession test.
func (c *Client) BlockGet(ctx context.Context, cidStr string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api/v0/block/get?arg=%s", c.baseURL, url.QueryEscape(cidStr))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
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
		return nil, fmt.Errorf("kubo block/get %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

// Cat retrieves up to length bytes of cid through the local node's
// /api/v0/cat, used by the optional retrieval-check tier of the verifier.
// It does not address any particular pinner.
func (c *Client) Cat(ctx context.Context, cidStr string, length int) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api/v0/cat?arg=%s&length=%d", c.baseURL, url.QueryEscape(cidStr), length)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
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
		return nil, fmt.Errorf("kubo cat %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

// ID is a liveness probe against /api/v0/id.
func (c *Client) ID(ctx context.Context) error {
	return c.post(ctx, "/api/v0/id")
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("kubo %s %d: %s", path, resp.StatusCode, string(b))
	}
	return nil
}
