package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/crn-cloud/crn/internal/batch"
	"github.com/crn-cloud/crn/pkg/log"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/pkg/errors"
)

const describePageSize = 100

// Batch runs analysis tasks as Docker containers, one container per
// task. Definitions are held in an in-process registry with monotonic
// revisions; the containers themselves are the source of truth for task
// state, recovered from the daemon by label on every status query.
type Batch struct {
	backend dockerBackend
	region  string

	mu          sync.Mutex
	revisions   map[string]int
	definitions map[string]batch.RegisteredDefinition
	order       []string
}

// New connects to the Docker daemon and returns a batch backend. An
// empty host falls back to the environment's daemon address.
func New(host, region string) (*Batch, error) {
	cli, err := newClient(host)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to docker daemon")
	}

	return &Batch{
		backend:     cli,
		region:      region,
		revisions:   map[string]int{},
		definitions: map[string]batch.RegisteredDefinition{},
	}, nil
}

// RegisterDefinition records a definition under the next revision of
// its name and returns the canonical reference.
func (b *Batch) RegisterDefinition(ctx context.Context, spec batch.DefinitionSpec) (*batch.RegisteredDefinition, error) {
	if spec.Name == "" || spec.Image == "" {
		return nil, errors.New("definition requires a name and an image")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	revision := b.revisions[spec.Name] + 1
	b.revisions[spec.Name] = revision

	def := batch.RegisteredDefinition{
		Name:     spec.Name,
		Ref:      fmt.Sprintf("crn:%s:definition/%s:%d", b.region, spec.Name, revision),
		Revision: revision,
		Image:    spec.Image,
		Command:  spec.Command,
		Env:      spec.Env,
	}

	b.definitions[def.Ref] = def
	b.order = append(b.order, def.Ref)

	return &def, nil
}

// DeregisterDefinition removes a definition by reference.
func (b *Batch) DeregisterDefinition(ctx context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.definitions[ref]; !ok {
		return batch.ErrDefinitionNotFound
	}

	delete(b.definitions, ref)
	for i, r := range b.order {
		if r == ref {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}

	return nil
}

// DescribeDefinitions returns one page of registered definitions in
// registration order, filtered to refs when refs is non-empty. The
// continuation token is an offset into the registration order.
func (b *Batch) DescribeDefinitions(ctx context.Context, refs []string, nextToken string) (*batch.DefinitionPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	offset := 0
	if nextToken != "" {
		parsed, err := strconv.Atoi(nextToken)
		if err != nil || parsed < 0 {
			return nil, errors.Errorf("invalid continuation token: %v", nextToken)
		}
		offset = parsed
	}

	wanted := map[string]bool{}
	for _, ref := range refs {
		wanted[ref] = true
	}

	matching := make([]batch.RegisteredDefinition, 0, len(b.order))
	for _, ref := range b.order {
		if len(wanted) > 0 && !wanted[ref] {
			continue
		}
		matching = append(matching, b.definitions[ref])
	}

	if offset >= len(matching) {
		return &batch.DefinitionPage{}, nil
	}

	end := offset + describePageSize
	page := &batch.DefinitionPage{}
	if end < len(matching) {
		page.NextToken = strconv.Itoa(end)
	} else {
		end = len(matching)
	}
	page.Definitions = matching[offset:end]

	return page, nil
}

// Submit pulls the definition's image and starts one container for the
// analysis, labelled so its state can be recovered later.
func (b *Batch) Submit(ctx context.Context, params batch.DispatchParams) ([]batch.TaskRef, error) {
	b.mu.Lock()
	def, ok := b.definitions[params.DefinitionRef]
	b.mu.Unlock()
	if !ok {
		return nil, batch.ErrDefinitionNotFound
	}

	log.Info("pulling docker image", "image", def.Image)

	r, err := b.backend.ImagePull(ctx, def.Image, image.PullOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Error("close docker pull reader", "error", err)
		}
	}()

	if _, err = io.ReadAll(r); err != nil {
		return nil, err
	}

	taskName := params.JobName
	if taskName == "" {
		taskName = def.Name
	}

	cfg := &dockercontainer.Config{
		Image: def.Image,
		Cmd:   def.Command,
		Env:   taskEnv(def, params),
		Labels: map[string]string{
			LabelAnalysis: params.AnalysisID,
			LabelTask:     taskName,
		},
	}

	log.Info(
		"creating analysis container",
		"image", def.Image,
		"analysis_id", params.AnalysisID,
	)

	name := containerName(taskName, params.AnalysisID)
	created, err := b.backend.ContainerCreate(ctx, cfg, nil, nil, nil, name)
	if err != nil {
		return nil, err
	}

	if err = b.backend.ContainerStart(ctx, created.ID, dockercontainer.StartOptions{}); err != nil {
		return nil, err
	}

	return []batch.TaskRef{{ID: created.ID, Name: taskName}}, nil
}

// AnalysisTasks lists the containers labelled with the analysis id and
// maps each into a task detail with its attempt record.
func (b *Batch) AnalysisTasks(ctx context.Context, analysisID string) ([]batch.TaskDetail, error) {
	opts := dockercontainer.ListOptions{
		All: true,
		Filters: filters.NewArgs(filters.KeyValuePair{
			Key:   "label",
			Value: LabelAnalysis + "=" + analysisID,
		}),
	}

	containers, err := b.backend.ContainerList(ctx, opts)
	if err != nil {
		return nil, err
	}

	tasks := make([]batch.TaskDetail, 0, len(containers))
	for _, c := range containers {
		metadata, err := b.backend.ContainerInspect(ctx, c.ID)
		if err != nil {
			return nil, err
		}

		detail := batch.TaskDetail{
			ID:     metadata.ID,
			Name:   c.Labels[LabelTask],
			Status: taskStatus(metadata),
		}

		if metadata.State != nil && metadata.State.Status != "created" {
			detail.Attempts = []batch.TaskAttempt{{
				ContainerRef: metadata.ID,
				Environment:  parseEnv(metadata.Config.Env),
				ExitCode:     metadata.State.ExitCode,
			}}
		}

		tasks = append(tasks, detail)
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	return tasks, nil
}

// Logs returns the combined stdout/stderr stream of a task container.
func (b *Batch) Logs(ctx context.Context, containerRef string) (io.ReadCloser, error) {
	return b.backend.ContainerLogs(ctx, containerRef, dockercontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
	})
}

func taskStatus(metadata dockercontainer.InspectResponse) batch.TaskStatus {
	if metadata.State == nil {
		return batch.TaskPending
	}

	switch metadata.State.Status {
	case "created":
		return batch.TaskPending
	case "running", "restarting", "removing", "paused":
		return batch.TaskRunning
	case "exited", "dead":
		if metadata.State.ExitCode == 0 {
			return batch.TaskSucceeded
		}
		return batch.TaskFailed
	default:
		return batch.TaskPending
	}
}

func taskEnv(def batch.RegisteredDefinition, params batch.DispatchParams) []string {
	values := map[string]string{
		"CRN_ANALYSIS_ID":  params.AnalysisID,
		"CRN_DATASET_HASH": params.DatasetHash,
		"CRN_SNAPSHOT_ID":  params.SnapshotID,
	}
	for k, v := range def.Env {
		values[k] = v
	}
	for k, v := range params.Parameters {
		values["CRN_PARAM_"+strings.ToUpper(k)] = v
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, values[k]))
	}
	return env
}

func parseEnv(env []string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for _, entry := range env {
		if k, v, ok := strings.Cut(entry, "="); ok {
			out[k] = v
		}
	}
	return out
}

func containerName(taskName, analysisID string) string {
	short := analysisID
	if len(short) > 8 {
		short = short[:8]
	}
	return "crn-" + taskName + "-" + short
}
