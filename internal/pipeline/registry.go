package pipeline

import (
	"fmt"
	"slices"
	"sort"

	"github.com/studio1767/filemon/internal/item"
)

// Descriptor declares what an operation type can process and which
// operations must run before it.
type Descriptor struct {
	Name          string
	Accepts       []item.Kind
	Prerequisites []string
}

// EngineDescriptor declares the item kind an engine produces.
type EngineDescriptor struct {
	Name     string
	Produces item.Kind
}

type ErrUnknownOperation struct {
	Name string
}

func (e *ErrUnknownOperation) Error() string {
	return fmt.Sprintf("unknown operation: %s", e.Name)
}

type ErrUnknownEngine struct {
	Name string
}

func (e *ErrUnknownEngine) Error() string {
	return fmt.Sprintf("unknown engine: %s", e.Name)
}

// ErrUnsupported is returned when an operation cannot process the items
// the configured engine produces.
type ErrUnsupported struct {
	Operation string
	Engine    string
	Kind      item.Kind
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("operation %s does not support %s items produced by engine %s", e.Operation, e.Kind, e.Engine)
}

// ErrPrerequisite is returned when an operation is configured before, or
// without, an operation it depends on.
type ErrPrerequisite struct {
	Operation string
	Index     int
	Missing   string
}

func (e *ErrPrerequisite) Error() string {
	return fmt.Sprintf("operation %d (%s) requires %s to appear earlier in the pipeline", e.Index, e.Operation, e.Missing)
}

// Registry is the queryable table of known engines and operations.
type Registry struct {
	stages  map[string]Descriptor
	engines map[string]EngineDescriptor
}

func NewRegistry() *Registry {
	return &Registry{
		stages:  make(map[string]Descriptor),
		engines: make(map[string]EngineDescriptor),
	}
}

func (r *Registry) RegisterStage(d Descriptor) {
	r.stages[d.Name] = d
}

func (r *Registry) RegisterEngine(d EngineDescriptor) {
	r.engines[d.Name] = d
}

func (r *Registry) Stage(name string) (Descriptor, bool) {
	d, ok := r.stages[name]
	return d, ok
}

func (r *Registry) Engine(name string) (EngineDescriptor, bool) {
	d, ok := r.engines[name]
	return d, ok
}

// StageNames lists the registered operations in alphabetical order.
func (r *Registry) StageNames() []string {
	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Accepts reports whether an operation can process items of the given kind.
func Accepts(d Descriptor, kind item.Kind) bool {
	return slices.Contains(d.Accepts, kind)
}

func PrerequisitesOf(d Descriptor) []string {
	return append([]string(nil), d.Prerequisites...)
}

// Preflight validates a configured pipeline before monitoring starts:
// every operation is known, accepts the engine's item kind, and finds its
// prerequisites earlier in the list.
func (r *Registry) Preflight(engine string, operations []string) error {
	ed, ok := r.engines[engine]
	if !ok {
		return &ErrUnknownEngine{Name: engine}
	}
	if len(operations) == 0 {
		return fmt.Errorf("no operations configured")
	}

	seen := make(map[string]bool)
	for idx, name := range operations {
		d, ok := r.stages[name]
		if !ok {
			return &ErrUnknownOperation{Name: name}
		}
		if !Accepts(d, ed.Produces) {
			return &ErrUnsupported{Operation: name, Engine: engine, Kind: ed.Produces}
		}
		for _, pre := range PrerequisitesOf(d) {
			if !seen[pre] {
				return &ErrPrerequisite{Operation: name, Index: idx, Missing: pre}
			}
		}
		seen[name] = true
	}
	return nil
}
