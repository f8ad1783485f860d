// Package blobstore stores raw image content keyed by image ID. Metadata
// (owner, file name, analysis results) lives in Postgres; this package only
// handles the bytes. The filesystem implementation backs production; the
// in-memory implementation backs tests and development.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrTooLarge    = errors.New("content exceeds maximum allowed size")
	ErrContentType = errors.New("content type is not allowed")
)

// AllowedContentTypes lists the accepted medical image MIME types.
var AllowedContentTypes = map[string]bool{
	"image/png":         true,
	"image/jpeg":        true,
	"image/dicom":       true,
	"application/dicom": true,
	"application/pdf":   true,
}

// PutResult reports what was stored.
type PutResult struct {
	Size     int64
	Checksum string // hex-encoded SHA-256 of the content
}

// Store is the contract for blob storage backends.
type Store interface {
	Put(ctx context.Context, id string, contentType string, content io.Reader) (*PutResult, error)
	Get(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

// readAll drains content up to maxSize bytes, rejecting anything larger, and
// returns the data together with its SHA-256 checksum.
func readAll(content io.Reader, maxSize int64) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(content, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, "", ErrTooLarge
	}
	h := sha256.Sum256(data)
	return data, fmt.Sprintf("%x", h), nil
}

// MemStore is a thread-safe, in-memory Store.
type MemStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	maxSize int64
}

// NewMemStore returns a ready-to-use MemStore that rejects content larger
// than maxSize bytes.
func NewMemStore(maxSize int64) *MemStore {
	return &MemStore{
		blobs:   make(map[string][]byte),
		maxSize: maxSize,
	}
}

func (s *MemStore) Put(_ context.Context, id string, contentType string, content io.Reader) (*PutResult, error) {
	if !AllowedContentTypes[contentType] {
		return nil, ErrContentType
	}

	data, checksum, err := readAll(content, s.maxSize)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.blobs[id] = data
	s.mu.Unlock()

	return &PutResult{Size: int64(len(data)), Checksum: checksum}, nil
}

func (s *MemStore) Get(_ context.Context, id string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.blobs, id)
	return nil
}
