package validation

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"toolsmith/internal/synth"
	"toolsmith/internal/types"
)

// forbiddenImports may not appear in generated code or tests.
var forbiddenImports = []string{
	"os/exec",
	"syscall",
	"unsafe",
	"plugin",
	"runtime/cgo",
	"C",
}

// forbiddenCalls are package-qualified calls refused in generated code.
var forbiddenCalls = map[string]bool{
	"os.Exit":      true,
	"os.RemoveAll": true,
	"os.Chmod":     true,
	"os.Chown":     true,
	"os.Setenv":    true,
}

// StaticCheck runs the checks that need no sandbox: error marker, parse,
// security policy and, when spec is non-nil, the tool function signature.
func StaticCheck(tool *types.GeneratedTool, spec *types.ToolSpecification) []types.Failure {
	if synth.IsErrorTool(tool.Code) {
		return []types.Failure{{Kind: types.FailureSyntax, Detail: "generation failed: " + errorReason(tool.Code)}}
	}

	fset := token.NewFileSet()
	var failures []types.Failure
	code, err := parser.ParseFile(fset, "tool.go", tool.Code, parser.ParseComments)
	if err != nil {
		failures = append(failures, types.Failure{Kind: types.FailureSyntax, Detail: err.Error()})
	}
	var tests *ast.File
	if strings.TrimSpace(tool.Tests) == "" {
		failures = append(failures, types.Failure{Kind: types.FailureCompliance, Detail: "tool has no tests"})
	} else if tests, err = parser.ParseFile(fset, "tool_test.go", tool.Tests, parser.ParseComments); err != nil {
		failures = append(failures, types.Failure{Kind: types.FailureSyntax, Detail: err.Error()})
	}
	if code != nil && tests != nil && code.Name.Name != tests.Name.Name && tests.Name.Name != code.Name.Name+"_test" {
		failures = append(failures, types.Failure{
			Kind:   types.FailureSyntax,
			Detail: fmt.Sprintf("package mismatch: tool.go is %q, tool_test.go is %q", code.Name.Name, tests.Name.Name),
		})
	}

	for _, f := range []*ast.File{code, tests} {
		if f != nil {
			failures = append(failures, securityCheck(fset, f)...)
		}
	}
	for _, f := range failures {
		if f.Kind == types.FailureSyntax {
			return failures
		}
	}
	if code != nil && spec != nil {
		failures = append(failures, complianceCheck(code, *spec)...)
	}
	return failures
}

func errorReason(code string) string {
	for _, line := range strings.Split(code, "\n") {
		if strings.HasPrefix(line, synth.ErrorMarker) {
			return strings.TrimSpace(strings.TrimPrefix(line, synth.ErrorMarker))
		}
	}
	return "unknown error"
}

func securityCheck(fset *token.FileSet, file *ast.File) []types.Failure {
	var failures []types.Failure
	aliases := make(map[string]string)
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		for _, forbidden := range forbiddenImports {
			if path == forbidden || strings.HasPrefix(path, forbidden+"/") {
				failures = append(failures, types.Failure{
					Kind:   types.FailureSecurity,
					Detail: fmt.Sprintf("%s: forbidden import %q", fset.Position(imp.Pos()), path),
				})
			}
		}
		name := path[strings.LastIndex(path, "/")+1:]
		if imp.Name != nil {
			name = imp.Name.Name
		}
		switch name {
		case ".":
			if ownsForbiddenCall(path) {
				failures = append(failures, types.Failure{
					Kind:   types.FailureSecurity,
					Detail: fmt.Sprintf("%s: dot import of %q hides forbidden calls", fset.Position(imp.Pos()), path),
				})
			}
		case "_":
		default:
			aliases[name] = path
		}
	}

	// Any selector counts, not only calls: f := os.Exit is as bad as os.Exit(1).
	ast.Inspect(file, func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		pkg, ok := sel.X.(*ast.Ident)
		if !ok {
			return true
		}
		path, imported := aliases[pkg.Name]
		if !imported {
			return true
		}
		qualified := path + "." + sel.Sel.Name
		if forbiddenCalls[qualified] {
			failures = append(failures, types.Failure{
				Kind:   types.FailureSecurity,
				Detail: fmt.Sprintf("%s: forbidden call %s", fset.Position(sel.Pos()), qualified),
			})
		}
		return true
	})
	return failures
}

func ownsForbiddenCall(path string) bool {
	for qualified := range forbiddenCalls {
		if strings.HasPrefix(qualified, path+".") && !strings.Contains(qualified[len(path)+1:], ".") {
			return true
		}
	}
	return false
}

// complianceCheck requires an exported function named after the tool that
// takes one parameter per spec parameter, optionally after a leading
// context.Context, and returns (value, error).
func complianceCheck(file *ast.File, spec types.ToolSpecification) []types.Failure {
	want := synth.FuncName(spec)
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil || fn.Name.Name != want {
			continue
		}

		params := fieldCount(fn.Type.Params)
		if params > 0 && isContext(fn.Type.Params.List[0].Type) {
			params--
		}
		var failures []types.Failure
		if params != len(spec.InputParameters) {
			failures = append(failures, types.Failure{
				Kind:   types.FailureCompliance,
				Detail: fmt.Sprintf("%s takes %d parameters, specification declares %d", want, params, len(spec.InputParameters)),
			})
		}
		if fieldCount(fn.Type.Results) != 2 || !isError(fn.Type.Results.List[len(fn.Type.Results.List)-1].Type) {
			failures = append(failures, types.Failure{
				Kind:   types.FailureCompliance,
				Detail: fmt.Sprintf("%s must return (value, error)", want),
			})
		}
		return failures
	}
	return []types.Failure{{
		Kind:   types.FailureCompliance,
		Detail: fmt.Sprintf("missing exported function %s", want),
	}}
}

func fieldCount(fl *ast.FieldList) int {
	if fl == nil {
		return 0
	}
	n := 0
	for _, f := range fl.List {
		if len(f.Names) == 0 {
			n++
			continue
		}
		n += len(f.Names)
	}
	return n
}

func isContext(expr ast.Expr) bool {
	sel, ok := expr.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && pkg.Name == "context" && sel.Sel.Name == "Context"
}

func isError(expr ast.Expr) bool {
	id, ok := expr.(*ast.Ident)
	return ok && id.Name == "error"
}
