// Package objectstore provides versioned key/value object storage with
// conditional writes. Every object carries an ETag that changes on each write,
// which lets callers run read-modify-write cycles with optimistic concurrency.
package objectstore

import (
	"context"
	"errors"
)

var (
	ErrNotFound           = errors.New("object not found")
	ErrPreconditionFailed = errors.New("object precondition failed")
	ErrInvalidKey         = errors.New("object key is required")
)

// Object is a stored value and its current version tag
type Object struct {
	Key  string
	Data []byte
	ETag string
}

// PutOptions make a write conditional.
// IfMatch requires the current ETag to equal the given one; IfNoneMatch requires the key to be absent.
type PutOptions struct {
	IfMatch     string
	IfNoneMatch bool
}

// Store is the storage contract used by the import pipeline
type Store interface {
	Get(ctx context.Context, key string) (*Object, error)
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (string, error)
	// List returns keys under prefix, in lexical order, strictly after startAfter.
	List(ctx context.Context, prefix, startAfter string, limit int) ([]string, error)
}
