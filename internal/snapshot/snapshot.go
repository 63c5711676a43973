package snapshot

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// ErrSnapshotNotFound is returned when a dataset snapshot cannot be
// resolved to a bundle.
var ErrSnapshotNotFound = errors.New("dataset snapshot not found")

// File is one file of a content-addressed bundle. Key is the path
// relative to the bundle root, in slash form.
type File struct {
	Key  string
	Path string
}

// Open returns a reader over the file's content.
func (f File) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// Bundle is a resolved dataset snapshot: the ordered file set and the
// content hash its storage key derives from.
type Bundle struct {
	Hash  string
	Files []File
}

// Resolver resolves a dataset snapshot into a content-addressed bundle.
type Resolver interface {
	Resolve(ctx context.Context, datasetID, snapshotID string) (*Bundle, error)
}

// DirResolver resolves snapshots from a local directory tree laid out
// as {root}/{datasetID}/{snapshotID}/...
type DirResolver struct {
	root string
}

func NewDirResolver(root string) *DirResolver {
	return &DirResolver{root: root}
}

// Resolve walks the snapshot directory, ordering files by relative
// path, and computes the bundle content hash over paths and contents.
func (r *DirResolver) Resolve(ctx context.Context, datasetID, snapshotID string) (*Bundle, error) {
	dir := filepath.Join(r.root, datasetID, snapshotID)

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, errors.Wrapf(ErrSnapshotNotFound, "%s/%s", datasetID, snapshotID)
	}

	var files []File
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, File{Key: filepath.ToSlash(rel), Path: path})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })

	digest := sha256.New()
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		digest.Write([]byte(f.Key))
		digest.Write([]byte{0})

		src, err := f.Open()
		if err != nil {
			return nil, err
		}
		if _, err = io.Copy(digest, src); err != nil {
			src.Close()
			return nil, err
		}
		src.Close()
	}

	return &Bundle{
		Hash:  hex.EncodeToString(digest.Sum(nil)),
		Files: files,
	}, nil
}

// HashParameters returns the deterministic digest of a parameter map:
// an md5 hex digest over its canonical JSON serialization. Go's JSON
// encoder writes map keys in sorted order, so equal maps always
// produce equal digests.
func HashParameters(params map[string]interface{}) (string, error) {
	if params == nil {
		params = map[string]interface{}{}
	}

	serialized, err := json.Marshal(params)
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize parameters")
	}

	sum := md5.Sum(serialized)
	return hex.EncodeToString(sum[:]), nil
}
