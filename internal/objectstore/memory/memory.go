package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/crn-cloud/crn/internal/objectstore"
)

// Store is an in-memory object store used in tests. Directory marker
// keys can be injected directly to mimic bucket listings.
type Store struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	PageSize int
	GetErr   error
	ListErr  error
}

func New() *Store {
	return &Store{
		objects:  map[string][]byte{},
		PageSize: 1000,
	}
}

// Put stores an object without going through Upload validation, so
// tests can create directory marker keys.
func (s *Store) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
}

func (s *Store) Upload(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.Put(key, data)
	return nil
}

func (s *Store) List(ctx context.Context, req objectstore.ListRequest) (*objectstore.ListPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ListErr != nil {
		return nil, s.ListErr
	}

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		if strings.HasPrefix(key, req.Prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	after := req.StartAfter
	if req.ContinuationToken > after {
		after = req.ContinuationToken
	}

	page := &objectstore.ListPage{}
	for _, key := range keys {
		if after != "" && key <= after {
			continue
		}
		if len(page.Objects) == s.PageSize {
			page.NextToken = page.Objects[len(page.Objects)-1].Key
			return page, nil
		}
		page.Objects = append(page.Objects, objectstore.Object{
			Key:  key,
			Size: int64(len(s.objects[key])),
		})
	}

	return page, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.GetErr != nil {
		return nil, s.GetErr
	}

	data, ok := s.objects[key]
	if !ok {
		return nil, objectstore.ErrObjectNotFound
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}
