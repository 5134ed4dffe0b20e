// Package strategy decides how a tool gets built. Selection is a pure
// function of the specification and the immutable tables injected into the
// Selector, so equal inputs always produce equal decisions.
package strategy

import (
	"toolsmith/internal/logging"
	"toolsmith/internal/types"
)

// Decision is the selected strategy plus whatever the chosen path needs.
type Decision struct {
	Strategy   types.Strategy
	Capability *Capability // STANDARD
	Op         *SimpleOp   // SIMPLE
	Endpoints  []Endpoint  // EXTERNAL
}

// Selector chooses a strategy from fixed tables.
type Selector struct {
	registry Registry
	ops      []SimpleOp
	catalog  *Catalog
}

// NewSelector builds a selector; the tables are copied.
func NewSelector(registry Registry, ops []SimpleOp, catalog *Catalog) *Selector {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Selector{
		registry: NewRegistry(registry.caps...),
		ops:      copyOps(ops),
		catalog:  NewCatalog(catalog.endpoints...),
	}
}

// DefaultSelector uses the built-in registry and ops with the given catalog.
func DefaultSelector(catalog *Catalog) *Selector {
	return NewSelector(DefaultRegistry(), DefaultSimpleOps(), catalog)
}

// Catalog returns the selector's catalog, usable as a Discoverer.
func (s *Selector) Catalog() *Catalog { return s.catalog }

// Select picks STANDARD, SIMPLE, EXTERNAL or FALLBACK, in that priority.
func (s *Selector) Select(spec types.ToolSpecification) Decision {
	d := s.decide(spec)
	logging.StrategyDebug("selected %s for %s", d.Strategy, spec.Name)
	return d
}

func (s *Selector) decide(spec types.ToolSpecification) Decision {
	if c, ok := s.registry.Match(spec); ok {
		return Decision{Strategy: types.StrategyStandard, Capability: &c}
	}
	if op, ok := matchOp(s.ops, spec); ok {
		return Decision{Strategy: types.StrategySimple, Op: &op}
	}
	if eps := s.catalog.Search(searchText(spec)); len(eps) > 0 {
		return Decision{Strategy: types.StrategyExternal, Endpoints: eps}
	}
	return Decision{Strategy: types.StrategyFallback}
}
