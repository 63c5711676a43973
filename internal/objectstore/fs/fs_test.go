package fs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/crn-cloud/crn/internal/objectstore"
	"github.com/stretchr/testify/require"
)

func TestUploadAndGet(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "abc/analysis/out.txt", strings.NewReader("hello")))

	src, err := store.Get(ctx, "abc/analysis/out.txt")
	require.NoError(t, err)
	defer src.Close()

	data, err := io.ReadAll(src)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestUploadRejectsMarkerKeys(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.Error(t, store.Upload(ctx, "", strings.NewReader("x")))
	require.Error(t, store.Upload(ctx, "abc/", strings.NewReader("x")))
}

func TestGetMissingObject(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, objectstore.ErrObjectNotFound)
}

func TestListEmitsDirectoryMarkers(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "abc/analysis/a.txt", strings.NewReader("a")))
	require.NoError(t, store.Upload(ctx, "abc/analysis/sub/b.txt", strings.NewReader("b")))

	page, err := store.List(ctx, objectstore.ListRequest{Prefix: "abc/analysis/"})
	require.NoError(t, err)
	require.Empty(t, page.NextToken)

	keys := make([]string, len(page.Objects))
	for i, obj := range page.Objects {
		keys[i] = obj.Key
	}
	require.Equal(t, []string{
		"abc/analysis/a.txt",
		"abc/analysis/sub/",
		"abc/analysis/sub/b.txt",
	}, keys)
}

func TestListStartAfterSkipsPrefixKey(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "abc/analysis/a.txt", strings.NewReader("a")))
	require.NoError(t, store.Upload(ctx, "abc/other/c.txt", strings.NewReader("c")))

	page, err := store.List(ctx, objectstore.ListRequest{
		Prefix:     "abc/analysis/",
		StartAfter: "abc/analysis/",
	})
	require.NoError(t, err)
	require.Len(t, page.Objects, 1)
	require.Equal(t, "abc/analysis/a.txt", page.Objects[0].Key)
}

func TestListContinuation(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "p/a.txt", strings.NewReader("a")))
	require.NoError(t, store.Upload(ctx, "p/b.txt", strings.NewReader("b")))

	page, err := store.List(ctx, objectstore.ListRequest{
		Prefix:            "p/",
		ContinuationToken: "p/a.txt",
	})
	require.NoError(t, err)
	require.Len(t, page.Objects, 1)
	require.Equal(t, "p/b.txt", page.Objects[0].Key)
}
