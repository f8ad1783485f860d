package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FSStore stores blobs as files under a root directory, one file per blob
// named by its ID. IDs must be UUIDs; anything else is treated as not found
// so a malformed ID can never escape the root.
type FSStore struct {
	root    string
	maxSize int64
}

// NewFSStore creates the root directory if needed and returns a store that
// rejects content larger than maxSize bytes.
func NewFSStore(root string, maxSize int64) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root %s: %w", root, err)
	}
	return &FSStore{root: root, maxSize: maxSize}, nil
}

func (s *FSStore) path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrNotFound
	}
	return filepath.Join(s.root, id), nil
}

// Put writes the content to a temp file and renames it into place, so a
// partially written blob is never visible under its final name.
func (s *FSStore) Put(_ context.Context, id string, contentType string, content io.Reader) (*PutResult, error) {
	if !AllowedContentTypes[contentType] {
		return nil, ErrContentType
	}

	dest, err := s.path(id)
	if err != nil {
		return nil, fmt.Errorf("invalid blob id %q", id)
	}

	data, checksum, err := readAll(content, s.maxSize)
	if err != nil {
		return nil, err
	}

	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing blob: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("storing blob: %w", err)
	}

	return &PutResult{Size: int64(len(data)), Checksum: checksum}, nil
}

func (s *FSStore) Get(_ context.Context, id string) (io.ReadCloser, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	return f, nil
}

func (s *FSStore) Delete(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}
