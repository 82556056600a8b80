// Package blobstore holds in-memory image previews addressed by opaque ids.
// A handle stays valid until it is released; owners must release handles
// they no longer reference.
package blobstore

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Blob is an immutable binary resource with its media type.
type Blob struct {
	ID        string
	Data      []byte
	MediaType string
	CreatedAt time.Time
}

// Size returns the blob length in bytes.
func (b *Blob) Size() int64 {
	return int64(len(b.Data))
}

// Store keeps blobs until they are released.
type Store struct {
	mutex sync.RWMutex
	blobs map[string]*Blob
	bytes int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{blobs: make(map[string]*Blob)}
}

// Put stores data and returns the handle id.
func (s *Store) Put(data []byte, mediaType string) string {
	id := uuid.NewString()
	s.mutex.Lock()
	s.blobs[id] = &Blob{
		ID:        id,
		Data:      data,
		MediaType: mediaType,
		CreatedAt: time.Now(),
	}
	s.bytes += int64(len(data))
	s.mutex.Unlock()
	return id
}

// Get returns the blob for the handle id.
func (s *Store) Get(id string) (*Blob, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	b, ok := s.blobs[id]
	return b, ok
}

// Release drops the handle. It reports whether the handle was live.
func (s *Store) Release(id string) bool {
	if id == "" {
		return false
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	b, ok := s.blobs[id]
	if !ok {
		return false
	}
	delete(s.blobs, id)
	s.bytes -= int64(len(b.Data))
	return true
}

// Len returns the number of live handles.
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.blobs)
}

// Bytes returns the total size of live blobs.
func (s *Store) Bytes() int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.bytes
}
