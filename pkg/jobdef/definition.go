package jobdef

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	APIVersionV1      = "v1"
	KindJobDefinition = "JobDefinition"
)

// Definition models a job definition document as written to YAML
// files and applied through the CLI.
type Definition struct {
	APIVersion string    `yaml:"apiVersion" json:"apiVersion"`
	Kind       string    `yaml:"kind" json:"kind"`
	Metadata   Metadata  `yaml:"metadata" json:"metadata"`
	Container  Container `yaml:"container" json:"container"`

	Parameters         map[string]interface{} `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Descriptions       map[string]interface{} `yaml:"descriptions,omitempty" json:"descriptions,omitempty"`
	ParametersMetadata map[string]interface{} `yaml:"parametersMetadata,omitempty" json:"parametersMetadata,omitempty"`
	AnalysisLevels     []string               `yaml:"analysisLevels,omitempty" json:"analysisLevels,omitempty"`
}

// Metadata contains descriptive data for the definition.
type Metadata struct {
	Name string `yaml:"name" json:"name"`
}

// Container is the execution recipe registered with the compute
// backend.
type Container struct {
	Image   string            `yaml:"image" json:"image"`
	Command []string          `yaml:"command,omitempty" json:"command,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Parse parses YAML bytes into a Definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ParseAll parses a multi-document YAML stream.
func ParseAll(data []byte) ([]Definition, error) {
	var defs []Definition
	for _, doc := range strings.Split(string(data), "\n---") {
		if strings.TrimSpace(doc) == "" {
			continue
		}
		def, err := Parse([]byte(doc))
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

// Validate checks the structural requirements of a definition.
func (d *Definition) Validate() error {
	if d.APIVersion != APIVersionV1 {
		return fmt.Errorf("unsupported apiVersion: %q", d.APIVersion)
	}
	if d.Kind != KindJobDefinition {
		return fmt.Errorf("unsupported kind: %q", d.Kind)
	}
	if strings.TrimSpace(d.Metadata.Name) == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if strings.TrimSpace(d.Container.Image) == "" {
		return fmt.Errorf("container.image is required")
	}
	for _, level := range d.AnalysisLevels {
		if strings.TrimSpace(level) == "" {
			return fmt.Errorf("analysisLevels must not contain empty entries")
		}
	}
	return nil
}
