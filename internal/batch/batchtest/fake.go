package batchtest

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/crn-cloud/crn/internal/batch"
)

// Fake is a scriptable in-memory compute backend for tests. Task
// statuses and errors are set by the test; calls are recorded.
type Fake struct {
	mu sync.Mutex

	PageSize    int
	SubmitErr   error
	TasksErr    error
	LogContent  string
	definitions []batch.RegisteredDefinition
	revisions   map[string]int
	tasks       map[string][]batch.TaskDetail

	Submitted []batch.DispatchParams
}

func New() *Fake {
	return &Fake{
		PageSize:  100,
		revisions: map[string]int{},
		tasks:     map[string][]batch.TaskDetail{},
	}
}

// SetTasks scripts the task details returned for an analysis.
func (f *Fake) SetTasks(analysisID string, tasks []batch.TaskDetail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[analysisID] = tasks
}

func (f *Fake) RegisterDefinition(ctx context.Context, spec batch.DefinitionSpec) (*batch.RegisteredDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	revision := f.revisions[spec.Name] + 1
	f.revisions[spec.Name] = revision

	def := batch.RegisteredDefinition{
		Name:     spec.Name,
		Ref:      fmt.Sprintf("crn:test:definition/%s:%d", spec.Name, revision),
		Revision: revision,
		Image:    spec.Image,
		Command:  spec.Command,
		Env:      spec.Env,
	}
	f.definitions = append(f.definitions, def)

	return &def, nil
}

func (f *Fake) DeregisterDefinition(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, def := range f.definitions {
		if def.Ref == ref {
			f.definitions = append(f.definitions[:i], f.definitions[i+1:]...)
			return nil
		}
	}
	return batch.ErrDefinitionNotFound
}

func (f *Fake) DescribeDefinitions(ctx context.Context, refs []string, nextToken string) (*batch.DefinitionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	wanted := map[string]bool{}
	for _, ref := range refs {
		wanted[ref] = true
	}

	matching := make([]batch.RegisteredDefinition, 0, len(f.definitions))
	for _, def := range f.definitions {
		if len(wanted) > 0 && !wanted[def.Ref] {
			continue
		}
		matching = append(matching, def)
	}

	offset := 0
	if nextToken != "" {
		offset, _ = strconv.Atoi(nextToken)
	}
	if offset >= len(matching) {
		return &batch.DefinitionPage{}, nil
	}

	end := offset + f.PageSize
	page := &batch.DefinitionPage{}
	if end < len(matching) {
		page.NextToken = strconv.Itoa(end)
	} else {
		end = len(matching)
	}
	page.Definitions = matching[offset:end]

	return page, nil
}

func (f *Fake) Submit(ctx context.Context, params batch.DispatchParams) ([]batch.TaskRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SubmitErr != nil {
		return nil, f.SubmitErr
	}

	f.Submitted = append(f.Submitted, params)

	ref := batch.TaskRef{
		ID:   fmt.Sprintf("task-%s-%d", params.AnalysisID, len(f.Submitted)),
		Name: params.JobName,
	}

	f.tasks[params.AnalysisID] = append(f.tasks[params.AnalysisID], batch.TaskDetail{
		ID:     ref.ID,
		Name:   ref.Name,
		Status: batch.TaskPending,
	})

	return []batch.TaskRef{ref}, nil
}

func (f *Fake) AnalysisTasks(ctx context.Context, analysisID string) ([]batch.TaskDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.TasksErr != nil {
		return nil, f.TasksErr
	}

	tasks := make([]batch.TaskDetail, len(f.tasks[analysisID]))
	copy(tasks, f.tasks[analysisID])
	return tasks, nil
}

func (f *Fake) Logs(ctx context.Context, containerRef string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.LogContent)), nil
}
