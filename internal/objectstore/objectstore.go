// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package objectstore stores opaque binary objects under hierarchical keys.
//
// Keys use "/" as separator regardless of platform. Every backend exposes the
// same semantics: Put replaces, Get of a missing key returns ErrNotFound,
// Delete is idempotent and List returns keys in lexical order.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for keys that could escape the store root.
	ErrInvalidKey = errors.New("invalid object key")
)

// MaxKeyLength bounds key size across backends.
const MaxKeyLength = 1024

// Store is the object storage collaborator. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put writes the full contents of r under key and returns the byte count.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns all keys starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Backends.
const (
	BackendFS     = "fs"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Open creates a Store for the configured backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendFS, "":
		return NewFSStore(path)
	case BackendBadger:
		return NewBadgerStore(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown object store backend: %s", backend)
	}
}

// ValidateKey rejects keys that are empty, absolute, contain traversal
// segments or backslashes, or exceed MaxKeyLength.
func ValidateKey(key string) error {
	if key == "" || len(key) > MaxKeyLength {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if strings.HasPrefix(key, "/") || strings.ContainsRune(key, '\\') || strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// validatePrefix accepts the empty prefix and prefixes ending in "/".
func validatePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	return ValidateKey(strings.TrimSuffix(prefix, "/"))
}

// PutBytes is a convenience wrapper for small payloads.
func PutBytes(ctx context.Context, s Store, key string, data []byte) (int64, error) {
	return s.Put(ctx, key, bytes.NewReader(data))
}
