package graph

// Kind of a declared stage input.
type InputKind string

const (

	// Literal command or configuration text hashed as-is.
	InputCommand InputKind = "command"

	// Reference to a file resolved to its content by the file-access
	// collaborator.
	InputFile InputKind = "file"

	// The parent stage's output artifact.
	InputArtifact InputKind = "artifact"
)

// A single declared input of a stage.
//
// Input order is significant: reordering two inputs changes the stage's
// fingerprint even when their contents are unchanged.
type Input struct {
	Kind  InputKind // What the value refers to.
	Value string    // Literal text for command inputs, a file reference for file inputs, empty for artifact inputs.
}

// One unit of build work.
//
// A stage declares its inputs, the command to run on a cache miss, and at
// most one parent stage it extends. The parent is referenced by name only;
// resolution happens when the graph is built.
type Stage struct {
	Name    string  // Unique name within the graph.
	Parent  string  // Name of the parent stage, or empty for a root stage.
	Command string  // Command executed by the stage runner on a cache miss.
	Inputs  []Input // Declared inputs in significance order.
}

// Reports whether the stage extends a parent stage.
func (s *Stage) HasParent() bool {
	return s.Parent != ""
}
