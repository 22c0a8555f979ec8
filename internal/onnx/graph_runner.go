package onnx

import "context"

// GraphRunner executes one loaded graph against named inputs. It is the only
// view of the execution engine that verification and benchmarking depend on.
type GraphRunner interface {
	Run(ctx context.Context, inputs Values) (Values, error)
	OutputNames() []string
	Name() string
	Close()
}

// Opener loads the graph at path into a GraphRunner.
type Opener func(name, path string) (GraphRunner, error)
