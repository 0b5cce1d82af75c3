package specfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cruciblehq/kiln/internal/graph"
)

// On-disk stage document.
type document struct {
	Stages []stageDoc `yaml:"stages"`
}

type stageDoc struct {
	Name    string     `yaml:"name"`
	Parent  string     `yaml:"parent,omitempty"`
	Command string     `yaml:"command"`
	Inputs  []inputDoc `yaml:"inputs,omitempty"`
}

type inputDoc struct {
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
}

// Input kinds accepted in spec files.
var inputKinds = map[string]graph.InputKind{
	"command":  graph.InputCommand,
	"file":     graph.InputFile,
	"artifact": graph.InputArtifact,
}

// Loads and parses a stage spec file.
func Load(path string) (graph.Spec, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return graph.Spec{}, fmt.Errorf("reading spec file: %w", err)
	}
	return Parse(doc)
}

// Parses a YAML stage spec document.
//
// Input order within each stage is preserved as written; it is part of the
// stage's cache key. Structural validation (unique names, known parents,
// cycles) is left to the graph build.
func Parse(data []byte) (graph.Spec, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return graph.Spec{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if len(doc.Stages) == 0 {
		return graph.Spec{}, fmt.Errorf("%w: no stages", ErrMalformed)
	}

	spec := graph.Spec{Stages: make([]graph.Stage, 0, len(doc.Stages))}

	for i, sd := range doc.Stages {
		if sd.Name == "" {
			return graph.Spec{}, fmt.Errorf("%w: stage %d has no name", ErrMalformed, i+1)
		}
		if sd.Command == "" {
			return graph.Spec{}, fmt.Errorf("%w: stage %q has no command", ErrMalformed, sd.Name)
		}

		stage := graph.Stage{
			Name:    sd.Name,
			Parent:  sd.Parent,
			Command: sd.Command,
		}

		for j, id := range sd.Inputs {
			kind, ok := inputKinds[id.Kind]
			if !ok {
				return graph.Spec{}, fmt.Errorf("%w: stage %q input %d has unknown kind %q",
					ErrMalformed, sd.Name, j+1, id.Kind)
			}
			if kind != graph.InputArtifact && id.Value == "" {
				return graph.Spec{}, fmt.Errorf("%w: stage %q input %d has no value",
					ErrMalformed, sd.Name, j+1)
			}
			stage.Inputs = append(stage.Inputs, graph.Input{Kind: kind, Value: id.Value})
		}

		spec.Stages = append(spec.Stages, stage)
	}

	return spec, nil
}
