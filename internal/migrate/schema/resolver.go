package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Resolver orders a batch of table definitions so that referenced tables are
// created before referencing tables.
type Resolver struct {
	logger *zap.Logger
	// strict makes a dependency cycle a hard error instead of a warning.
	// The default is lenient: foreign keys are always added in a second
	// phase after every table exists, so a cycle cannot produce a broken
	// creation order, only a misleading one.
	strict bool
}

// NewResolver creates a Resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// NewStrictResolver creates a Resolver that fails on dependency cycles.
func NewStrictResolver(logger *zap.Logger) *Resolver {
	r := NewResolver(logger)
	r.strict = true
	return r
}

// CycleError reports a dependency cycle between table definitions.
type CycleError struct {
	Cycle []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

// Sort returns the table names in dependency order: every table appears after
// all tables in its dependency set that are present in the input. Names are
// visited in sorted order so equal-priority tables come out deterministically.
// Dependencies on tables outside the batch are ignored; they must already
// exist from a prior migration.
func (r *Resolver) Sort(tables map[string]*TableDefinition) ([]string, error) {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	state := make(map[string]visitState, len(tables))
	order := make([]string, 0, len(tables))
	var cycleErr *CycleError

	var visit func(name string, path []string)
	visit = func(name string, path []string) {
		switch state[name] {
		case visited:
			return
		case visiting:
			// Back-edge. The two-phase design defers all foreign keys until
			// every table exists, so the edge is treated as satisfied.
			cycle := append(trimToCycle(path, name), name)
			if cycleErr == nil {
				cycleErr = &CycleError{Cycle: cycle}
			}
			r.logger.Warn("dependency cycle between tables, deferring to constraint phase",
				zap.Strings("cycle", cycle))
			return
		}
		state[name] = visiting
		for _, dep := range tables[name].Dependencies {
			if _, inBatch := tables[dep]; inBatch {
				visit(dep, append(path, name))
			}
		}
		state[name] = visited
		order = append(order, name)
	}

	for _, name := range names {
		visit(name, nil)
	}

	if r.strict && cycleErr != nil {
		return nil, cycleErr
	}
	return order, nil
}

// DetectCycles reports the first dependency cycle found in the table set, or
// nil when the declarations are acyclic. Sort handles cycles on its own; this
// exists for callers that want to surface the cycle without ordering.
func (r *Resolver) DetectCycles(tables map[string]*TableDefinition) *CycleError {
	strict := NewStrictResolver(zap.NewNop())
	if _, err := strict.Sort(tables); err != nil {
		var cycleErr *CycleError
		if errors.As(err, &cycleErr) {
			return cycleErr
		}
	}
	return nil
}

// trimToCycle cuts a DFS path down to the segment beginning at the repeated
// node.
func trimToCycle(path []string, start string) []string {
	for i, n := range path {
		if n == start {
			out := make([]string, len(path)-i)
			copy(out, path[i:])
			return out
		}
	}
	return []string{start}
}
