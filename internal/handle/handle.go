// Package handle provides opaque, revocable references to fetched image bytes.
//
// A handle is a string of the form "blob:imagecache/<uuid>". It stays valid
// until Release is called on it, after which Open reports it as unknown.
// Handles are never reissued.
package handle

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Prefix is the scheme and authority shared by every handle.
const Prefix = "blob:imagecache/"

// Blob is the payload owned by a handle.
type Blob struct {
	Data        []byte
	ContentType string
}

// Registry mints and tracks handles.
// A Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	mu    sync.RWMutex
	blobs map[string]Blob

	created  atomic.Int64
	released atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		blobs: make(map[string]Blob),
	}
}

// Create stores data under a fresh handle and returns it.
// The registry takes ownership of data; callers must not modify it.
func (r *Registry) Create(data []byte, contentType string) string {
	h := Prefix + uuid.NewString()

	r.mu.Lock()
	r.blobs[h] = Blob{Data: data, ContentType: contentType}
	r.mu.Unlock()

	r.created.Add(1)
	return h
}

// Open returns the blob for a live handle.
func (r *Registry) Open(h string) (Blob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.blobs[h]
	return b, ok
}

// Release revokes a handle and drops its bytes.
// Returns false if the handle is unknown or was already released.
func (r *Registry) Release(h string) bool {
	r.mu.Lock()
	_, ok := r.blobs[h]
	if ok {
		delete(r.blobs, h)
	}
	r.mu.Unlock()

	if ok {
		r.released.Add(1)
	}
	return ok
}

// Live returns the number of handles that have not been released.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

// Created returns the number of handles ever minted.
func (r *Registry) Created() int64 {
	return r.created.Load()
}

// Released returns the number of successful releases.
func (r *Registry) Released() int64 {
	return r.released.Load()
}

// IsHandle reports whether s has the handle shape.
// It does not check whether the handle is live.
func IsHandle(s string) bool {
	return strings.HasPrefix(s, Prefix)
}
