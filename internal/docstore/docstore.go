// Package docstore fetches remote script documents from the server's document
// store: metadata first, then content only when a cached artifact's
// modification timestamp is stale. Client construction is collapsed behind a
// singleflight group so that concurrent first-use callers build exactly one
// client.
package docstore

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/streamspace-dev/scriptconnector/internal/connectorerr"
)

// Metadata describes a document's store-side bookkeeping fields.
type Metadata struct {
	Name         string
	IsIncomplete bool
	ContentSize  int64
	ModifiedAt   string
	CreatedAt    string
}

// EffectiveModTime returns ModifiedAt, falling back to CreatedAt when the
// store has not recorded a modification time.
func (m Metadata) EffectiveModTime() string {
	if m.ModifiedAt != "" {
		return m.ModifiedAt
	}
	return m.CreatedAt
}

// StoreClient is the minimal document-store surface this package depends on.
// The production implementation talks to the server's REST document API; a
// fake implementing this interface is used in tests.
type StoreClient interface {
	FetchMetadata(ctx context.Context, name string) (Metadata, error)
	Download(ctx context.Context, name string) ([]byte, error)
}

// ClientFactory lazily builds a StoreClient, e.g. performing an auth handshake.
type ClientFactory func(ctx context.Context) (StoreClient, error)

// Fetcher retrieves script documents, validating metadata and comparing
// modification timestamps against a caller-supplied cache check.
type Fetcher struct {
	factory ClientFactory
	group   singleflight.Group

	client StoreClient
}

// NewFetcher builds a Fetcher that constructs its StoreClient lazily via factory.
func NewFetcher(factory ClientFactory) *Fetcher {
	return &Fetcher{factory: factory}
}

// clientFor returns the shared StoreClient, building it on first use. Concurrent
// callers collapse onto a single in-flight build via singleflight.
func (f *Fetcher) clientFor(ctx context.Context) (StoreClient, error) {
	if f.client != nil {
		return f.client, nil
	}

	v, err, _ := f.group.Do("client", func() (interface{}, error) {
		if f.client != nil {
			return f.client, nil
		}
		c, err := f.factory(ctx)
		if err != nil {
			return nil, err
		}
		f.client = c
		return c, nil
	})
	if err != nil {
		return nil, connectorerr.WithParams(connectorerr.ErrDocStoreConnectFailed, err.Error())
	}
	return v.(StoreClient), nil
}

// Result is the outcome of a Fetch call.
type Result struct {
	ModTime string
	// Fresh is true when Bytes was just downloaded; false means the caller's
	// cacheIsValid check reported the cached artifact is still current and
	// Bytes is empty (the caller should use its cached artifact instead).
	Fresh bool
	Bytes []byte
}

// Fetch retrieves metadata for name, validates it, and compares its
// modification time against cacheIsValid (which the caller supplies bound to
// its own cache lookup). If cacheIsValid reports the cache entry is current,
// Fetch returns without downloading. Otherwise it downloads and returns the
// fresh bytes.
func (f *Fetcher) Fetch(ctx context.Context, name string, cacheIsValid func(modTime string) bool) (Result, error) {
	client, err := f.clientFor(ctx)
	if err != nil {
		return Result{}, err
	}

	meta, err := client.FetchMetadata(ctx, name)
	if err != nil {
		return Result{}, connectorerr.WithParams(connectorerr.ErrDocStoreConnectFailed, err.Error())
	}

	if meta.IsIncomplete {
		return Result{}, connectorerr.WithParams(connectorerr.ErrDocIncomplete, name)
	}
	if meta.ContentSize <= 0 {
		return Result{}, connectorerr.WithParams(connectorerr.ErrDocLength, name)
	}

	modTime := meta.EffectiveModTime()
	if cacheIsValid != nil && cacheIsValid(modTime) {
		return Result{ModTime: modTime, Fresh: false}, nil
	}

	body, err := client.Download(ctx, name)
	if err != nil {
		return Result{}, connectorerr.WithParams(connectorerr.ErrDocStoreConnectFailed, err.Error())
	}
	if len(body) == 0 {
		return Result{}, connectorerr.WithParams(connectorerr.ErrDocContentEmpty, name)
	}

	return Result{ModTime: modTime, Fresh: true, Bytes: body}, nil
}

// HTTPClientFactory builds a real StoreClient talking to baseURL over HTTP,
// authenticating with authToken. It is the default ClientFactory used by
// production wiring.
func HTTPClientFactory(baseURL, authToken string) ClientFactory {
	return func(ctx context.Context) (StoreClient, error) {
		return &httpStoreClient{
			baseURL:    baseURL,
			authToken:  authToken,
			httpClient: &http.Client{},
		}, nil
	}
}

type httpStoreClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

func (c *httpStoreClient) FetchMetadata(ctx context.Context, name string) (Metadata, error) {
	url := fmt.Sprintf("%s/api/v1/resources/documents?where=%%7B%%22name%%22%%3A%%22%s%%22%%7D", c.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Metadata{}, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Metadata{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Metadata{}, fmt.Errorf("fetch metadata for %s: status %d", name, resp.StatusCode)
	}

	return decodeMetadata(resp, name)
}

func (c *httpStoreClient) Download(ctx context.Context, name string) ([]byte, error) {
	url := fmt.Sprintf("%s/api/v1/documents/%s", c.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download %s: status %d", name, resp.StatusCode)
	}

	return readBody(resp)
}

func (c *httpStoreClient) authorize(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}
