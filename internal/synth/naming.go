package synth

import (
	"strings"
	"unicode"

	"toolsmith/internal/types"
)

// Identifiers that generated code must not shadow: Go keywords, predeclared
// names, and locals used by the templates.
var reservedIdents = map[string]bool{
	"break": true, "case": true, "chan": true, "const": true, "continue": true,
	"default": true, "defer": true, "else": true, "fallthrough": true, "for": true,
	"func": true, "go": true, "goto": true, "if": true, "import": true,
	"interface": true, "map": true, "package": true, "range": true, "return": true,
	"select": true, "struct": true, "switch": true, "type": true, "var": true,
	"any": true, "bool": true, "byte": true, "error": true, "float64": true,
	"int": true, "string": true, "rune": true, "len": true, "cap": true,
	"make": true, "new": true, "nil": true, "true": true, "false": true,
	"append": true, "copy": true, "delete": true, "panic": true, "print": true,
	"println": true, "recover": true, "close": true, "min": true, "max": true,
	"clear": true, "complex": true, "real": true, "imag": true, "iota": true,
	"ctx": true, "zero": true, "out": true, "err": true, "ok": true,
	"result": true, "query": true, "req": true, "resp": true, "body": true,
	"total": true, "runes": true, "got": true, "want": true, "fmt": true,
	"url": true, "http": true, "json": true, "io": true, "time": true,
	"strings": true, "utf8": true, "context": true, "errors": true, "t": true,
	"v": true, "i": true, "j": true, "reflect": true, "testing": true,
}

// Package-level names declared by the templates.
var reservedExported = map[string]bool{
	"BaseURL": true, "HTTPClient": true, "Hosted": true, "Capability": true, "ErrUnbound": true,
}

// FuncName returns the exported Go function name for a spec.
func FuncName(spec types.ToolSpecification) string {
	name := camel(spec.Name, true)
	if name == "" {
		name = "Tool"
	}
	if reservedExported[name] {
		name += "Tool"
	}
	return name
}

// ParamName returns the Go identifier used for a parameter.
func ParamName(p types.Parameter) string {
	name := camel(p.Name, false)
	if name == "" {
		name = "arg"
	}
	if reservedIdents[name] {
		name += "Arg"
	}
	return name
}

func camel(s string, exported bool) string {
	var b strings.Builder
	upperNext := exported
	for _, r := range s {
		if r == '_' || r == '-' || r == ' ' {
			upperNext = b.Len() > 0 || exported
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		if b.Len() == 0 && unicode.IsDigit(r) {
			if exported {
				b.WriteByte('T')
			} else {
				b.WriteByte('v')
			}
		}
		if upperNext {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// GoType maps a canonical kind to the Go type used in generated code.
func GoType(kind string) string {
	switch kind {
	case types.KindString:
		return "string"
	case types.KindInteger:
		return "int"
	case types.KindNumber:
		return "float64"
	case types.KindBoolean:
		return "bool"
	case types.KindArray:
		return "[]any"
	case types.KindObject:
		return "map[string]any"
	default:
		return "any"
	}
}

// zeroLiteral is an argument literal of the given Go type.
func zeroLiteral(goType string) string {
	switch goType {
	case "string":
		return `""`
	case "int":
		return "0"
	case "float64":
		return "0.0"
	case "bool":
		return "false"
	default:
		return "nil"
	}
}

// typedSample is a non-nil value of goType stored in an interface.
func typedSample(goType string) string {
	switch goType {
	case "string", "any":
		return `"sample"`
	case "int":
		return "1"
	case "float64":
		return "1.5"
	case "bool":
		return "true"
	default:
		return goType + "{}"
	}
}

// jsonSample is a response body that decodes into goType.
func jsonSample(goType string) string {
	switch goType {
	case "string":
		return "ok"
	case "int", "float64":
		return "1"
	case "bool":
		return "true"
	case "[]any":
		return "[]"
	default:
		return "{}"
	}
}

// Signature renders the expected function signature for a spec.
func Signature(spec types.ToolSpecification) string {
	params := make([]string, len(spec.InputParameters))
	for i, p := range spec.InputParameters {
		params[i] = ParamName(p) + " " + GoType(p.Kind())
	}
	return "func " + FuncName(spec) + "(" + strings.Join(params, ", ") + ") (" + GoType(spec.OutputKind()) + ", error)"
}

func commentLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "implements the tool."
	}
	return s
}
