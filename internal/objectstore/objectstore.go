package objectstore

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Object describes one stored object. Keys ending in a path separator
// are directory markers and carry no content.
type Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// ListRequest selects a lexicographic window of keys. StartAfter skips
// keys up to and including the given key; ContinuationToken resumes a
// paginated listing.
type ListRequest struct {
	Prefix            string
	StartAfter        string
	ContinuationToken string
}

// ListPage is one page of a listing. A non-empty NextToken means more
// keys remain.
type ListPage struct {
	Objects   []Object
	NextToken string
}

// Store is the durable object store contract: upload a named blob,
// list keys under a prefix, and fetch an object's bytes as a stream.
type Store interface {
	Upload(ctx context.Context, key string, r io.Reader) error
	List(ctx context.Context, req ListRequest) (*ListPage, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}
