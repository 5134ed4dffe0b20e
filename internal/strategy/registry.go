package strategy

import (
	"strings"

	"toolsmith/internal/types"
)

// Capability is a hosted tool the runtime already provides.
type Capability struct {
	Name        string
	Aliases     []string
	Phrases     []string // purpose substrings that select this capability
	Description string
}

// Registry is an immutable set of hosted capabilities.
type Registry struct {
	caps []Capability
}

// NewRegistry copies caps into a registry.
func NewRegistry(caps ...Capability) Registry {
	out := make([]Capability, len(caps))
	for i, c := range caps {
		out[i] = Capability{
			Name:        c.Name,
			Aliases:     append([]string(nil), c.Aliases...),
			Phrases:     append([]string(nil), c.Phrases...),
			Description: c.Description,
		}
	}
	return Registry{caps: out}
}

// DefaultRegistry returns the built-in hosted capabilities.
func DefaultRegistry() Registry {
	return NewRegistry(
		Capability{
			Name:        "web_search",
			Aliases:     []string{"websearch", "search_web", "internet_search"},
			Phrases:     []string{"search the web", "web search", "search the internet", "search online"},
			Description: "Searches the public web and returns ranked results.",
		},
		Capability{
			Name:        "file_search",
			Aliases:     []string{"filesearch", "search_files", "document_search"},
			Phrases:     []string{"file search", "search files", "search documents", "search uploaded files"},
			Description: "Searches previously uploaded files and returns matching passages.",
		},
	)
}

// Match returns the capability selected by the tool name or purpose.
func (r Registry) Match(spec types.ToolSpecification) (Capability, bool) {
	name := strings.ToLower(spec.Name)
	for _, c := range r.caps {
		if name == c.Name {
			return c, true
		}
		for _, a := range c.Aliases {
			if name == a {
				return c, true
			}
		}
	}
	purpose := strings.ToLower(spec.Purpose)
	for _, c := range r.caps {
		for _, p := range c.Phrases {
			if strings.Contains(purpose, p) {
				return c, true
			}
		}
	}
	return Capability{}, false
}

// Names lists the registered capability names.
func (r Registry) Names() []string {
	names := make([]string, len(r.caps))
	for i, c := range r.caps {
		names[i] = c.Name
	}
	return names
}
