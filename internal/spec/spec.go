// Package spec loads tool specifications from JSON or YAML documents and
// checks them before they reach the designer.
package spec

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"toolsmith/internal/types"
)

var specValidate *validator.Validate

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func init() {
	specValidate = validator.New()
	_ = specValidate.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})
}

// document accepts the field spellings seen in hand-written specs.
type document struct {
	Name            string            `json:"name" yaml:"name"`
	Purpose         string            `json:"purpose" yaml:"purpose"`
	Description     string            `json:"description" yaml:"description"`
	InputParameters []types.Parameter `json:"input_parameters" yaml:"input_parameters"`
	Parameters      []types.Parameter `json:"parameters" yaml:"parameters"`
	OutputFormat    string            `json:"output_format" yaml:"output_format"`
	Returns         string            `json:"returns" yaml:"returns"`
}

// Parse decodes a specification, trying JSON first and YAML second, then
// normalizes and validates it.
func Parse(data []byte) (types.ToolSpecification, error) {
	var doc document
	jsonErr := json.Unmarshal(data, &doc)
	if jsonErr != nil {
		doc = document{}
		if yamlErr := yaml.Unmarshal(data, &doc); yamlErr != nil {
			return types.ToolSpecification{}, fmt.Errorf("specification is neither JSON (%v) nor YAML: %w", jsonErr, yamlErr)
		}
	}

	s := types.ToolSpecification{
		Name:            doc.Name,
		Purpose:         firstNonEmpty(doc.Purpose, doc.Description),
		InputParameters: doc.InputParameters,
		OutputFormat:    firstNonEmpty(doc.OutputFormat, doc.Returns),
	}
	if len(s.InputParameters) == 0 {
		s.InputParameters = doc.Parameters
	}

	s = Normalize(s)
	if err := Validate(s); err != nil {
		return types.ToolSpecification{}, err
	}
	return s, nil
}

// LoadFile reads and parses a specification file.
func LoadFile(path string) (types.ToolSpecification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ToolSpecification{}, fmt.Errorf("failed to read specification: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return types.ToolSpecification{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Normalize returns a copy with identifier-safe names and trimmed text.
// The input is not modified.
func Normalize(s types.ToolSpecification) types.ToolSpecification {
	out := types.ToolSpecification{
		Name:         Identifier(s.Name),
		Purpose:      strings.TrimSpace(s.Purpose),
		OutputFormat: strings.TrimSpace(s.OutputFormat),
	}
	if s.InputParameters != nil {
		out.InputParameters = make([]types.Parameter, len(s.InputParameters))
		for i, p := range s.InputParameters {
			p.Name = Identifier(p.Name)
			p.Type = strings.TrimSpace(p.Type)
			p.Description = strings.TrimSpace(p.Description)
			out.InputParameters[i] = p
		}
	}
	return out
}

// Identifier lowercases a name and replaces everything outside [a-z0-9_]
// with underscores. Names starting with a digit get a "t_" prefix.
func Identifier(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	id := strings.TrimRight(b.String(), "_")
	if id != "" && id[0] >= '0' && id[0] <= '9' {
		id = "t_" + id
	}
	return id
}

// Validate checks required fields, identifier shape and parameter
// uniqueness.
func Validate(s types.ToolSpecification) error {
	if err := specValidate.Struct(s); err != nil {
		return describe(err)
	}
	if err := specValidate.Var(s.Name, "identifier"); err != nil {
		return fmt.Errorf("invalid specification: name %q is not an identifier", s.Name)
	}
	seen := make(map[string]bool, len(s.InputParameters))
	for _, p := range s.InputParameters {
		if err := specValidate.Var(p.Name, "identifier"); err != nil {
			return fmt.Errorf("invalid specification: parameter name %q is not an identifier", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("invalid specification: duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("invalid specification: %w", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid specification: %s", strings.Join(fields, ", "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
