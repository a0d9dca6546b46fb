package intake

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownUseCase is returned for a use-case with no configured pipeline.
var ErrUnknownUseCase = errors.New("unknown use-case")

// Registry maps use-case names to their pipelines. It is filled once at
// start-up and only read afterwards.
type Registry struct {
	pipelines map[string]*Pipeline
}

// NewRegistry indexes pipelines by use-case; duplicate names are an error.
func NewRegistry(pipelines ...*Pipeline) (*Registry, error) {
	r := &Registry{pipelines: make(map[string]*Pipeline, len(pipelines))}
	for _, p := range pipelines {
		if _, dup := r.pipelines[p.UseCase()]; dup {
			return nil, fmt.Errorf("duplicate use-case %q", p.UseCase())
		}
		r.pipelines[p.UseCase()] = p
	}
	return r, nil
}

// Get returns the pipeline for useCase.
func (r *Registry) Get(useCase string) (*Pipeline, error) {
	p, ok := r.pipelines[useCase]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUseCase, useCase)
	}
	return p, nil
}

// UseCases returns the registered names in sorted order.
func (r *Registry) UseCases() []string {
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
