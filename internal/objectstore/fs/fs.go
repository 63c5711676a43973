package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crn-cloud/crn/internal/objectstore"
	"github.com/pkg/errors"
)

const listPageSize = 1000

// Store is a durable object store rooted at a local directory. Keys
// map to file paths below the root; directories surface in listings as
// trailing-separator marker keys, matching bucket-store conventions.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a store.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("object store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create object store root")
	}
	return &Store{root: root}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Upload writes the blob to its key, creating parent directories.
func (s *Store) Upload(ctx context.Context, key string, r io.Reader) error {
	if key == "" || strings.HasSuffix(key, "/") {
		return errors.Errorf("invalid object key: %q", key)
	}

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// List returns one lexicographic page of keys under the prefix.
func (s *Store) List(ctx context.Context, req objectstore.ListRequest) (*objectstore.ListPage, error) {
	var objects []objectstore.Object

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path == s.root {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		key := filepath.ToSlash(rel)
		if info.IsDir() {
			key += "/"
		}

		// The anchor directory itself is not content.
		if key == req.Prefix {
			return nil
		}

		if req.Prefix != "" && !strings.HasPrefix(key, req.Prefix) {
			// Skip subtrees that can never match.
			if info.IsDir() && !strings.HasPrefix(req.Prefix, key) {
				return filepath.SkipDir
			}
			return nil
		}

		objects = append(objects, objectstore.Object{Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	after := req.StartAfter
	if req.ContinuationToken > after {
		after = req.ContinuationToken
	}

	page := &objectstore.ListPage{}
	for _, obj := range objects {
		if after != "" && obj.Key <= after {
			continue
		}
		if len(page.Objects) == listPageSize {
			page.NextToken = page.Objects[len(page.Objects)-1].Key
			return page, nil
		}
		page.Objects = append(page.Objects, obj)
	}

	return page, nil
}

// Get opens the object for reading.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if os.IsNotExist(err) {
		return nil, objectstore.ErrObjectNotFound
	}
	return f, err
}
