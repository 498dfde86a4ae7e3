package analysis

import "errors"

// Resolution failures. All lookup operations return one of these as a
// tagged failure; none panic across the API surface, and read-path
// callers answer the client with a neutral value instead of an error.
var (
	// ErrNotFound: no binding occurrence could be located.
	ErrNotFound = errors.New("definition not found")
	// ErrUnbound: parent walking exhausted the tree with levels left.
	ErrUnbound = errors.New("variable is unbound")
	// ErrNotADefinition: the identifier is a selector component, not a
	// binding reference.
	ErrNotADefinition = errors.New("not a binding reference")
	// ErrNotEnvCreating: displacement lookup on a node kind that does
	// not introduce an environment.
	ErrNotEnvCreating = errors.New("node does not create an environment")
)
