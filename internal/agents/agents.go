// Package agents defines the role records for the three pipeline stages: the name,
// instruction text and model settings each stage's assistant runs with.
package agents

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/auto-analyzer/internal/llm"
	"github.com/jonathan/auto-analyzer/internal/schemas"
)

//go:embed agents.yaml
var defaultDefinitions []byte

//go:embed agents.schema.json
var definitionSchemaSource string

var definitionSchema = schemas.MustCompile("agent definitions", definitionSchemaSource)

// Stage names a pipeline step an agent is responsible for
type Stage string

// Stage constants, in execution order
const (
	StageClean     Stage = "clean"
	StageAnalyze   Stage = "analyze"
	StageVisualize Stage = "visualize"
)

// Stages lists every stage in the order the pipeline runs them.
var Stages = []Stage{StageClean, StageAnalyze, StageVisualize}

// Definition is one agent's static configuration
type Definition struct {
	Name          string       `yaml:"name"`
	Stage         Stage        `yaml:"stage"`
	Description   string       `yaml:"description"`
	SystemMessage string       `yaml:"system_message"`
	Model         string       `yaml:"model,omitempty"`
	Temperature   *float64     `yaml:"temperature,omitempty"`
	Settings      llm.Settings `yaml:"-"`
}

// Set holds one definition per stage.
type Set struct {
	byStage map[Stage]Definition
}

type document struct {
	Agents []Definition `yaml:"agents"`
}

// Default returns the built-in definitions with the given base model settings.
func Default(base llm.Settings) (*Set, error) {
	return Parse(defaultDefinitions, base)
}

// LoadFile reads definitions from a YAML file, validating them against the schema.
func LoadFile(path string, base llm.Settings) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent definitions %s: %w", path, err)
	}
	return Parse(data, base)
}

// Parse decodes YAML agent definitions. Per-agent model and temperature override base.
func Parse(data []byte, base llm.Settings) (*Set, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse agent definitions: %w", err)
	}
	if err := definitionSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid agent definitions: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode agent definitions: %w", err)
	}

	set := &Set{byStage: make(map[Stage]Definition, len(doc.Agents))}
	for _, def := range doc.Agents {
		if _, dup := set.byStage[def.Stage]; dup {
			return nil, fmt.Errorf("duplicate agent for stage %s", def.Stage)
		}
		def.Settings = base
		if def.Model != "" {
			def.Settings = def.Settings.WithModel(def.Model)
		}
		if def.Temperature != nil {
			def.Settings.Temperature = *def.Temperature
		}
		set.byStage[def.Stage] = def
	}

	for _, stage := range Stages {
		if _, ok := set.byStage[stage]; !ok {
			return nil, fmt.Errorf("no agent defined for stage %s", stage)
		}
	}

	return set, nil
}

// For returns the definition responsible for a stage.
func (s *Set) For(stage Stage) (Definition, error) {
	def, ok := s.byStage[stage]
	if !ok {
		return Definition{}, fmt.Errorf("no agent defined for stage %s", stage)
	}
	return def, nil
}

// All returns the definitions in stage order.
func (s *Set) All() []Definition {
	defs := make([]Definition, 0, len(Stages))
	for _, stage := range Stages {
		if def, ok := s.byStage[stage]; ok {
			defs = append(defs, def)
		}
	}
	return defs
}
