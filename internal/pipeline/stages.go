package pipeline

import (
	"errors"
	"fmt"

	"github.com/dominikbraun/graph"

	"github.com/jonathan/auto-analyzer/internal/agents"
	"github.com/jonathan/auto-analyzer/internal/prompts"
	"github.com/jonathan/auto-analyzer/internal/workspace"
)

// StageDefinition defines one stage of the pipeline
type StageDefinition struct {
	Stage        agents.Stage
	State        State
	TaskKey      string
	Dependencies []agents.Stage
	// Produces names the artifact the stage must leave behind.
	Produces string
	// Artifacts lists what the stage left in the layout; empty means nothing.
	Artifacts func(workspace.Layout) []string
}

// DefaultStages is the clean, analyze, visualize chain. Each stage reads the
// previous stage's output from the working directory.
var DefaultStages = []StageDefinition{
	{
		Stage:     agents.StageClean,
		State:     StateCleaning,
		TaskKey:   prompts.KeyCleanTask,
		Produces:  workspace.CleanedFile,
		Artifacts: cleanedArtifacts,
	},
	{
		Stage:        agents.StageAnalyze,
		State:        StateAnalyzing,
		TaskKey:      prompts.KeyAnalyzeTask,
		Dependencies: []agents.Stage{agents.StageClean},
		Produces:     workspace.ResultsDir + "/*.{csv,txt}",
		Artifacts:    analysisArtifacts,
	},
	{
		Stage:        agents.StageVisualize,
		State:        StateVisualizing,
		TaskKey:      prompts.KeyVisualizeTask,
		Dependencies: []agents.Stage{agents.StageClean},
		Produces:     workspace.VisualsDir + "/*.{png,jpg}",
		Artifacts:    visualArtifacts,
	},
}

func cleanedArtifacts(l workspace.Layout) []string {
	if l.HasCleaned() {
		return []string{workspace.CleanedFile}
	}
	return nil
}

func analysisArtifacts(l workspace.Layout) []string {
	files, _ := l.AnalysisFiles()
	return rels(files)
}

func visualArtifacts(l workspace.Layout) []string {
	files, _ := l.Visuals()
	return rels(files)
}

func rels(files []workspace.Artifact) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Rel)
	}
	return out
}

// DependencyError is returned when a stage depends on one that is not defined.
type DependencyError struct {
	Stage      agents.Stage
	Dependency agents.Stage
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("stage %s depends on undefined stage %s", e.Stage, e.Dependency)
}

// OrderStages validates the stage graph and returns the stages in execution order.
// Ties are broken by declaration order.
func OrderStages(defs []StageDefinition) ([]StageDefinition, error) {
	g := graph.New(func(d StageDefinition) agents.Stage { return d.Stage }, graph.Directed(), graph.PreventCycles())

	position := make(map[agents.Stage]int, len(defs))
	for i, def := range defs {
		if err := g.AddVertex(def); err != nil {
			if errors.Is(err, graph.ErrVertexAlreadyExists) {
				return nil, fmt.Errorf("stage %s defined twice", def.Stage)
			}
			return nil, err
		}
		position[def.Stage] = i
	}

	for _, def := range defs {
		for _, dep := range def.Dependencies {
			if _, ok := position[dep]; !ok {
				return nil, &DependencyError{Stage: def.Stage, Dependency: dep}
			}
			if err := g.AddEdge(dep, def.Stage); err != nil {
				if errors.Is(err, graph.ErrEdgeCreatesCycle) {
					return nil, fmt.Errorf("stage %s: dependency on %s creates a cycle", def.Stage, dep)
				}
				return nil, err
			}
		}
	}

	order, err := graph.StableTopologicalSort(g, func(a, b agents.Stage) bool {
		return position[a] < position[b]
	})
	if err != nil {
		return nil, fmt.Errorf("failed to order stages: %w", err)
	}

	ordered := make([]StageDefinition, 0, len(order))
	for _, stage := range order {
		ordered = append(ordered, defs[position[stage]])
	}
	return ordered, nil
}
