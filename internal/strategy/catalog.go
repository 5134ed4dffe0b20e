package strategy

import (
	"context"
	"strings"

	"toolsmith/internal/config"
	"toolsmith/internal/types"
)

// Endpoint is one known external HTTP API.
type Endpoint struct {
	Name        string
	BaseURL     string
	Path        string
	Method      string
	Description string
	Keywords    []string
}

// URL joins base URL and path.
func (e Endpoint) URL() string {
	if e.Path == "" {
		return e.BaseURL
	}
	return strings.TrimRight(e.BaseURL, "/") + "/" + strings.TrimLeft(e.Path, "/")
}

// Discoverer finds external endpoints for a specification. Discovery is
// best-effort: callers treat errors like an empty result.
type Discoverer interface {
	Discover(ctx context.Context, spec types.ToolSpecification) ([]Endpoint, error)
}

// Catalog is a static, immutable endpoint list searched by keyword.
type Catalog struct {
	endpoints []Endpoint
}

// NewCatalog copies endpoints into a catalog.
func NewCatalog(endpoints ...Endpoint) *Catalog {
	out := make([]Endpoint, len(endpoints))
	for i, e := range endpoints {
		e.Keywords = append([]string(nil), e.Keywords...)
		if e.Method == "" {
			e.Method = "GET"
		}
		out[i] = e
	}
	return &Catalog{endpoints: out}
}

// CatalogFromConfig builds a catalog from configuration entries.
func CatalogFromConfig(entries []config.CatalogEntry) *Catalog {
	eps := make([]Endpoint, 0, len(entries))
	for _, e := range entries {
		eps = append(eps, Endpoint{
			Name:        e.Name,
			BaseURL:     e.BaseURL,
			Path:        e.Path,
			Method:      strings.ToUpper(e.Method),
			Description: e.Description,
			Keywords:    e.Keywords,
		})
	}
	return NewCatalog(eps...)
}

// Len returns the number of endpoints.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.endpoints)
}

// Search returns endpoints whose keywords appear as whole words in text.
func (c *Catalog) Search(text string) []Endpoint {
	if c == nil {
		return nil
	}
	words := tokenize(text)
	var out []Endpoint
	for _, e := range c.endpoints {
		if containsKeyword(words, e.Keywords) {
			e.Keywords = append([]string(nil), e.Keywords...)
			out = append(out, e)
		}
	}
	return out
}

// Discover implements Discoverer by searching purpose and parameter names.
func (c *Catalog) Discover(ctx context.Context, spec types.ToolSpecification) ([]Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Search(searchText(spec)), nil
}

func searchText(spec types.ToolSpecification) string {
	parts := []string{spec.Purpose}
	for _, p := range spec.InputParameters {
		parts = append(parts, strings.ReplaceAll(p.Name, "_", " "))
	}
	return strings.Join(parts, " ")
}
