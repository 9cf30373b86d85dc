// Package objectstorefake provides an in-memory objectstore.Gateway for the
// coordinator and httpapi test suites, in the same spirit as storefake.
package objectstorefake

import (
	"context"
	"fmt"
	"sync"

	"github.com/archiveswarm/coordinator/objectstore"
)

// Gateway is an in-memory objectstore.Gateway. Create one with New: the zero
// value has no size map, so PutSize on it panics.
type Gateway struct {
	mu    sync.Mutex
	sizes map[string]int64

	// PresignedURL, when set, is returned verbatim by PresignPut instead
	// of the default synthesized URL. Tests that only care whether a URL
	// was produced can leave this unset.
	PresignedURL string
}

// New creates an empty Gateway.
func New() *Gateway {
	return &Gateway{sizes: make(map[string]int64)}
}

var _ objectstore.Gateway = (*Gateway)(nil)

// PutSize seeds the size HeadSize will report for key, for test setup after
// a simulated upload.
func (g *Gateway) PutSize(key string, size int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sizes[key] = size
}

func (g *Gateway) PresignPut(_ context.Context, key string, contentLength int64, contentType string) (string, error) {
	if g.PresignedURL != "" {
		return g.PresignedURL, nil
	}
	return fmt.Sprintf("https://fake-bucket.example.com/%s?contentType=%s&contentLength=%d", key, contentType, contentLength), nil
}

func (g *Gateway) HeadSize(_ context.Context, key string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	size, ok := g.sizes[key]
	if !ok {
		return 0, objectstore.ErrObjectNotFound
	}
	return size, nil
}
