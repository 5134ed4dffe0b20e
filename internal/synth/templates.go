package synth

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"text/template"

	"toolsmith/internal/strategy"
	"toolsmith/internal/types"
)

type paramView struct {
	Name string // Go identifier
	Raw  string // specification name
	Type string // Go type
	Kind string
	Desc string
}

type testCase struct {
	Args string
	Want string
}

type toolView struct {
	Spec           types.ToolSpecification
	Func           string
	Purpose        string
	Params         []paramView
	ParamList      string
	ArgNames       string
	ZeroArgs       string
	ZeroArgsLead   string
	Return         string
	ReturnIsAny    bool
	ReturnIsString bool
	ReturnSample   string
	SampleBody     string
	Strategy       types.Strategy

	Capability string

	Op      string
	Imports []string
	Body    string
	Cases   []testCase

	Endpoint strategy.Endpoint
}

func newView(spec types.ToolSpecification, st types.Strategy) *toolView {
	v := &toolView{
		Spec:     spec,
		Func:     FuncName(spec),
		Purpose:  commentLine(spec.Purpose),
		Return:   GoType(spec.OutputKind()),
		Strategy: st,
	}
	for _, p := range spec.InputParameters {
		v.Params = append(v.Params, paramView{
			Name: ParamName(p),
			Raw:  p.Name,
			Type: GoType(p.Kind()),
			Kind: p.Kind(),
			Desc: commentLine(p.Description),
		})
	}
	v.refresh()
	return v
}

// refresh recomputes the derived strings after Params or Return change.
func (v *toolView) refresh() {
	var list, names, zeros []string
	for _, p := range v.Params {
		list = append(list, p.Name+" "+p.Type)
		names = append(names, p.Name)
		zeros = append(zeros, zeroLiteral(p.Type))
	}
	v.ParamList = strings.Join(list, ", ")
	v.ArgNames = strings.Join(names, ", ")
	v.ZeroArgs = strings.Join(zeros, ", ")
	v.ZeroArgsLead = ""
	if len(zeros) > 0 {
		v.ZeroArgsLead = ", " + v.ZeroArgs
	}
	v.ReturnIsAny = v.Return == "any"
	v.ReturnIsString = v.Return == "string"
	v.ReturnSample = typedSample(v.Return)
	v.SampleBody = jsonSample(v.Return)
}

var toolTemplates = template.Must(template.New("tools").Funcs(template.FuncMap{
	"quote": func(s string) string { return fmt.Sprintf("%q", s) },
}).Parse(templateText))

func render(name string, v *toolView) (string, error) {
	var buf bytes.Buffer
	if err := toolTemplates.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func renderTool(prefix string, v *toolView) (*types.GeneratedTool, error) {
	code, err := render(prefix+"_code", v)
	if err != nil {
		return nil, err
	}
	tests, err := render(prefix+"_tests", v)
	if err != nil {
		return nil, err
	}
	docs, err := render("docs", v)
	if err != nil {
		return nil, err
	}
	return &types.GeneratedTool{Code: code, Tests: tests, Docs: docs, Strategy: v.Strategy, Language: "go"}, nil
}

// renderStandard wraps a hosted capability behind an injectable interface.
func renderStandard(spec types.ToolSpecification, c strategy.Capability) (*types.GeneratedTool, error) {
	v := newView(spec, types.StrategyStandard)
	v.Capability = c.Name
	return renderTool("standard", v)
}

// renderExternal wraps an HTTP endpoint with net/http.
func renderExternal(spec types.ToolSpecification, ep strategy.Endpoint) (*types.GeneratedTool, error) {
	v := newView(spec, types.StrategyExternal)
	if ep.Method == "" {
		ep.Method = "GET"
	}
	v.Endpoint = ep
	return renderTool("external", v)
}

// renderSimple implements a primitive operation directly.
func renderSimple(spec types.ToolSpecification, op strategy.SimpleOp) (*types.GeneratedTool, error) {
	v := newView(spec, types.StrategySimple)
	v.Op = op.Op
	if err := simpleBody(v); err != nil {
		return nil, err
	}
	return renderTool("simple", v)
}

// MinimalImplementation renders a direct implementation that returns the
// zero value of the declared output, with a test covering every statement.
// It needs no model and always renders.
func MinimalImplementation(spec types.ToolSpecification) *types.GeneratedTool {
	v := newView(spec, types.StrategyFallback)
	tool, err := renderTool("minimal", v)
	if err != nil {
		// Only reachable if the embedded templates are broken.
		return ErrorTool(spec, err.Error(), "")
	}
	return tool
}

func simpleBody(v *toolView) error {
	switch v.Op {
	case "reverse", "uppercase", "lowercase", "length":
		if len(v.Params) != 1 {
			return fmt.Errorf("%s expects one parameter, got %d", v.Op, len(v.Params))
		}
		p := v.Params[0].Name
		switch v.Op {
		case "reverse":
			v.Body = "\trunes := []rune(" + p + ")\n" +
				"\tfor i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {\n" +
				"\t\trunes[i], runes[j] = runes[j], runes[i]\n" +
				"\t}\n" +
				"\treturn string(runes), nil"
			v.Cases = []testCase{{`"abc"`, `"cba"`}, {`"héllo"`, `"olléh"`}, {`""`, `""`}}
		case "uppercase":
			v.Imports = []string{"strings"}
			v.Body = "\treturn strings.ToUpper(" + p + "), nil"
			v.Cases = []testCase{{`"abc"`, `"ABC"`}, {`""`, `""`}}
		case "lowercase":
			v.Imports = []string{"strings"}
			v.Body = "\treturn strings.ToLower(" + p + "), nil"
			v.Cases = []testCase{{`"ABC"`, `"abc"`}, {`""`, `""`}}
		case "length":
			v.Imports = []string{"unicode/utf8"}
			v.Body = "\treturn utf8.RuneCountInString(" + p + "), nil"
			v.Cases = []testCase{{`"héllo"`, "5"}, {`""`, "0"}}
		}
		return nil

	case "sum", "product":
		if len(v.Params) == 0 {
			return fmt.Errorf("%s expects at least one parameter", v.Op)
		}
		sym, identity := "+", "0"
		if v.Op == "product" {
			sym, identity = "*", "1"
		}
		if len(v.Params) == 1 && v.Params[0].Kind == types.KindArray {
			v.Params[0].Type = "[]" + v.Return
			v.refresh()
			p := v.Params[0].Name
			v.Body = "\ttotal := " + v.Return + "(" + identity + ")\n" +
				"\tfor _, v := range " + p + " {\n" +
				"\t\ttotal " + sym + "= v\n" +
				"\t}\n" +
				"\treturn total, nil"
			v.Cases = []testCase{{"[]" + v.Return + "{1, 2, 3}", "6"}, {"nil", identity}}
			return nil
		}
		terms := make([]string, len(v.Params))
		twos := make([]string, len(v.Params))
		for i, p := range v.Params {
			terms[i] = v.Return + "(" + p.Name + ")"
			twos[i] = "2"
		}
		v.Body = "\treturn " + strings.Join(terms, " "+sym+" ") + ", nil"
		n := len(v.Params)
		want := 2 * n
		if v.Op == "product" {
			want = int(math.Pow(2, float64(n)))
		}
		zeroWant := "0"
		v.Cases = []testCase{
			{strings.Join(twos, ", "), fmt.Sprint(want)},
			{v.ZeroArgs, zeroWant},
		}
		return nil
	}
	return fmt.Errorf("unknown primitive operation %q", v.Op)
}
