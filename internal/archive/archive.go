package archive

import (
	"archive/zip"
	"context"
	"io"
	"strings"

	"github.com/crn-cloud/crn/internal/metrics"
	"github.com/crn-cloud/crn/internal/models"
	"github.com/crn-cloud/crn/internal/objectstore"
	"github.com/pkg/errors"
)

// Kind selects which object tree of an analysis is exported.
type Kind string

const (
	KindResults Kind = "results"
	KindLogs    Kind = "logs"
)

// ParseKind validates a caller-supplied export kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindResults, KindLogs:
		return Kind(s), nil
	default:
		return "", errors.Errorf("invalid archive kind: %q", s)
	}
}

// Name is the deterministic archive file name for a job export.
func Name(datasetLabel, analysisID string, kind Kind) string {
	return datasetLabel + "__" + analysisID + "__" + string(kind) + ".zip"
}

// Prefix is the object-store prefix an export reads from.
func Prefix(job *models.Job, kind Kind) string {
	if kind == KindLogs {
		return "logs/" + job.OutputPrefix()
	}
	return job.OutputPrefix()
}

// Exporter streams job output objects into zip archives.
type Exporter struct {
	objects objectstore.Store
}

func New(objects objectstore.Store) *Exporter {
	return &Exporter{objects: objects}
}

// Write streams every object under the job's export prefix into a zip
// container written directly to w. Objects are fetched and appended
// one at a time, in listing order, so a slow consumer backpressures
// the fetches instead of buffering the archive. Directory markers are
// skipped; any object fetch error aborts the archive.
func (e *Exporter) Write(ctx context.Context, job *models.Job, kind Kind, w io.Writer) error {
	var (
		zw     = zip.NewWriter(w)
		prefix = Prefix(job, kind)
		token  string
	)

	for {
		page, err := e.objects.List(ctx, objectstore.ListRequest{
			Prefix:            prefix,
			StartAfter:        prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return err
		}

		for _, obj := range page.Objects {
			if strings.HasSuffix(obj.Key, "/") {
				continue
			}

			if err := e.append(ctx, zw, prefix, obj.Key); err != nil {
				return errors.Wrapf(err, "failed to archive %s", obj.Key)
			}

			metrics.ArchiveObjectsTotal.WithLabelValues(string(kind)).Inc()
		}

		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	return zw.Close()
}

func (e *Exporter) append(ctx context.Context, zw *zip.Writer, prefix, key string) error {
	src, err := e.objects.Get(ctx, key)
	if err != nil {
		return err
	}
	defer src.Close()

	entry, err := zw.Create(strings.TrimPrefix(key, prefix))
	if err != nil {
		return err
	}

	_, err = io.Copy(entry, src)
	return err
}
