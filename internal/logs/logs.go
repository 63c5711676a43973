package logs

import (
	"context"
	"io"
	"strings"

	"github.com/crn-cloud/crn/internal/batch"
	"github.com/crn-cloud/crn/internal/models"
)

// Retriever fetches raw execution logs from the compute backend.
type Retriever struct {
	backend batch.Backend
}

func New(backend batch.Backend) *Retriever {
	return &Retriever{backend: backend}
}

// JobLogs collects the content of every log stream recorded for the
// job, keyed by derived stream name.
func (r *Retriever) JobLogs(ctx context.Context, job *models.Job) (map[string]string, error) {
	out := make(map[string]string, len(job.LogStreams))

	for _, stream := range job.LogStreams {
		// The execution-container reference is the last segment of
		// the derived stream name.
		segments := strings.Split(stream.Name, "/")
		content, err := r.read(ctx, segments[len(segments)-1])
		if err != nil {
			return nil, err
		}
		out[stream.Name] = content
	}

	return out, nil
}

// StreamLogs fetches one execution attempt's log by its composite key
// of application name, job identity, and task reference.
func (r *Retriever) StreamLogs(ctx context.Context, appName, jobID, taskRef string) (map[string]string, error) {
	content, err := r.read(ctx, taskRef)
	if err != nil {
		return nil, err
	}

	return map[string]string{appName + "/" + jobID + "/" + taskRef: content}, nil
}

func (r *Retriever) read(ctx context.Context, containerRef string) (string, error) {
	src, err := r.backend.Logs(ctx, containerRef)
	if err != nil {
		return "", err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}

	return string(data), nil
}
