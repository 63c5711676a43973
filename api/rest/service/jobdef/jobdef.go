package jobdef

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/crn-cloud/crn/internal/batch"
	"github.com/crn-cloud/crn/internal/models"
	"github.com/crn-cloud/crn/pkg/jsonmap"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobDefinition is the definition registry: backend registration
// joined with locally stored parameter metadata.
type JobDefinition interface {
	Register(*RegisterRequest) (*Described, error)
	Delete(ref string) error
	Describe() (map[string]map[int]*Described, error)
}

// Deps wires the registry's collaborators at startup.
type Deps struct {
	DB      *gorm.DB
	Backend batch.Backend
}

var (
	defaultDeps Deps
	defaultMu   sync.RWMutex
)

// Configure sets the process-wide registry dependencies.
func Configure(deps Deps) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultDeps = deps
}

// Service returns a request-scoped definition registry.
func Service(ctx context.Context) JobDefinition {
	defaultMu.RLock()
	deps := defaultDeps
	defaultMu.RUnlock()
	return NewService(ctx, deps)
}

// NewService builds a registry from explicit dependencies.
func NewService(ctx context.Context, deps Deps) JobDefinition {
	return &jobdefService{ctx: ctx, deps: deps}
}

type jobdefService struct {
	ctx  context.Context
	deps Deps
}

// RegisterRequest pairs the backend definition spec with the local
// metadata stored alongside it.
type RegisterRequest struct {
	batch.DefinitionSpec
	Parameters         map[string]interface{} `json:"parameters"`
	Descriptions       map[string]interface{} `json:"descriptions"`
	ParametersMetadata map[string]interface{} `json:"parameters_metadata"`
	AnalysisLevels     []string               `json:"analysis_levels"`
}

// Described is a backend definition merged with its local metadata.
type Described struct {
	batch.RegisteredDefinition
	Parameters         datatypes.JSONMap `json:"parameters"`
	Descriptions       datatypes.JSONMap `json:"descriptions"`
	ParametersMetadata datatypes.JSONMap `json:"parameters_metadata"`
	AnalysisLevels     []string          `json:"analysis_levels"`
}

// Register registers the definition with the compute backend and
// persists the caller-supplied metadata under the returned reference.
func (s *jobdefService) Register(req *RegisterRequest) (*Described, error) {
	registered, err := s.deps.Backend.RegisterDefinition(s.ctx, req.DefinitionSpec)
	if err != nil {
		return nil, err
	}

	levels, err := json.Marshal(req.AnalysisLevels)
	if err != nil {
		return nil, err
	}

	metadata := &models.DefinitionMetadata{
		Name:               registered.Name,
		Ref:                registered.Ref,
		Revision:           registered.Revision,
		Parameters:         jsonmap.FromMap(req.Parameters),
		Descriptions:       jsonmap.FromMap(req.Descriptions),
		ParametersMetadata: jsonmap.FromMap(req.ParametersMetadata),
		AnalysisLevels:     datatypes.JSON(levels),
	}

	if err := s.deps.DB.WithContext(s.ctx).Create(metadata).Error; err != nil {
		return nil, err
	}

	return merge(*registered, metadata), nil
}

// Delete removes the backend registration and the local metadata row.
func (s *jobdefService) Delete(ref string) error {
	if err := s.deps.Backend.DeregisterDefinition(s.ctx, ref); err != nil {
		return err
	}

	return s.deps.DB.WithContext(s.ctx).
		Where("ref = ?", ref).
		Delete(&models.DefinitionMetadata{}).Error
}

// Describe lists every registered definition, following the backend's
// continuation token until exhausted, and joins each with its local
// metadata grouped by name and keyed by revision. A revision with no
// local metadata gets empty structures.
func (s *jobdefService) Describe() (map[string]map[int]*Described, error) {
	var rows []models.DefinitionMetadata
	if err := s.deps.DB.WithContext(s.ctx).Find(&rows).Error; err != nil {
		return nil, err
	}

	refs := make([]string, 0, len(rows))
	local := make(map[string]*models.DefinitionMetadata, len(rows))
	for i := range rows {
		refs = append(refs, rows[i].Ref)
		local[rows[i].Ref] = &rows[i]
	}

	definitions := map[string]map[int]*Described{}
	token := ""
	for {
		page, err := s.deps.Backend.DescribeDefinitions(s.ctx, refs, token)
		if err != nil {
			return nil, errors.Wrap(err, "failed to describe job definitions")
		}

		for _, def := range page.Definitions {
			if definitions[def.Name] == nil {
				definitions[def.Name] = map[int]*Described{}
			}
			definitions[def.Name][def.Revision] = merge(def, local[def.Ref])
		}

		if page.NextToken == "" {
			return definitions, nil
		}
		token = page.NextToken
	}
}

func merge(def batch.RegisteredDefinition, metadata *models.DefinitionMetadata) *Described {
	out := &Described{
		RegisteredDefinition: def,
		Parameters:           datatypes.JSONMap{},
		Descriptions:         datatypes.JSONMap{},
		ParametersMetadata:   datatypes.JSONMap{},
		AnalysisLevels:       []string{},
	}

	if metadata == nil {
		return out
	}

	if metadata.Parameters != nil {
		out.Parameters = metadata.Parameters
	}
	if metadata.Descriptions != nil {
		out.Descriptions = metadata.Descriptions
	}
	if metadata.ParametersMetadata != nil {
		out.ParametersMetadata = metadata.ParametersMetadata
	}
	if len(metadata.AnalysisLevels) > 0 {
		var levels []string
		if err := json.Unmarshal(metadata.AnalysisLevels, &levels); err == nil && levels != nil {
			out.AnalysisLevels = levels
		}
	}

	return out
}
