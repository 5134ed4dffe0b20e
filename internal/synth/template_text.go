package synth

const templateText = `
{{define "standard_code"}}package tool

import (
	"context"
	"errors"
	"fmt"
)

// Capability is the hosted {{.Capability}} capability as bound by the runtime.
type Capability interface {
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Hosted is set by the runtime before {{.Func}} is called.
var Hosted Capability

// ErrUnbound is returned when the hosted capability has not been bound.
var ErrUnbound = errors.New("hosted capability {{.Capability}} is not bound")

// {{.Func}} {{.Purpose}}
func {{.Func}}(ctx context.Context{{range .Params}}, {{.Name}} {{.Type}}{{end}}) ({{.Return}}, error) {
	var zero {{.Return}}
	if Hosted == nil {
		return zero, ErrUnbound
	}
	out, err := Hosted.Invoke(ctx, map[string]any{ {{- range $i, $p := .Params}}{{if $i}}, {{end}}{{quote $p.Raw}}: {{$p.Name}}{{end -}} })
	if err != nil {
		return zero, fmt.Errorf("{{.Capability}}: %w", err)
	}
{{- if .ReturnIsAny}}
	return out, nil
{{- else}}
	result, ok := out.({{.Return}})
	if !ok {
		return zero, fmt.Errorf("{{.Capability}}: unexpected result type %T", out)
	}
	return result, nil
{{- end}}
}
{{end}}

{{define "standard_tests"}}package tool

import (
	"context"
	"errors"
	"testing"
)

type fakeCapability struct {
	out  any
	err  error
	args map[string]any
}

func (f *fakeCapability) Invoke(ctx context.Context, args map[string]any) (any, error) {
	f.args = args
	return f.out, f.err
}

func bind(t *testing.T, c Capability) {
	t.Helper()
	Hosted = c
	t.Cleanup(func() { Hosted = nil })
}

func Test{{.Func}}Unbound(t *testing.T) {
	Hosted = nil
	if _, err := {{.Func}}(context.Background(){{.ZeroArgsLead}}); !errors.Is(err, ErrUnbound) {
		t.Fatalf("expected ErrUnbound, got %v", err)
	}
}

func Test{{.Func}}Invokes(t *testing.T) {
	fake := &fakeCapability{out: {{.ReturnSample}}}
	bind(t, fake)
	if _, err := {{.Func}}(context.Background(){{.ZeroArgsLead}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.args) != {{len .Params}} {
		t.Fatalf("expected {{len .Params}} arguments, got %d", len(fake.args))
	}
}

func Test{{.Func}}PropagatesError(t *testing.T) {
	bind(t, &fakeCapability{err: errors.New("boom")})
	if _, err := {{.Func}}(context.Background(){{.ZeroArgsLead}}); err == nil {
		t.Fatal("expected error")
	}
}
{{- if not .ReturnIsAny}}

func Test{{.Func}}RejectsUnexpectedType(t *testing.T) {
	bind(t, &fakeCapability{out: struct{}{}})
	if _, err := {{.Func}}(context.Background(){{.ZeroArgsLead}}); err == nil {
		t.Fatal("expected type error")
	}
}
{{- end}}
{{end}}

{{define "simple_code"}}package tool
{{- if .Imports}}

import (
{{- range .Imports}}
	{{quote .}}
{{- end}}
)
{{- end}}

// {{.Func}} {{.Purpose}}
func {{.Func}}({{.ParamList}}) ({{.Return}}, error) {
{{.Body}}
}
{{end}}

{{define "simple_tests"}}package tool

import "testing"

func Test{{.Func}}(t *testing.T) {
{{- range $i, $c := .Cases}}
	if got, err := {{$.Func}}({{$c.Args}}); err != nil || got != {{$c.Want}} {
		t.Errorf("case {{$i}}: got %v, %v; want %v", got, err, {{$c.Want}})
	}
{{- end}}
}
{{end}}

{{define "external_code"}}package tool

import (
	"context"
{{- if not .ReturnIsString}}
	"encoding/json"
{{- end}}
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// BaseURL is the {{.Endpoint.Name}} endpoint.
var BaseURL = {{quote .Endpoint.URL}}

// HTTPClient performs requests against BaseURL.
var HTTPClient = &http.Client{Timeout: 10 * time.Second}

// {{.Func}} {{.Purpose}}
func {{.Func}}(ctx context.Context{{range .Params}}, {{.Name}} {{.Type}}{{end}}) ({{.Return}}, error) {
	var zero {{.Return}}
	query := url.Values{}
{{- range .Params}}
	query.Set({{quote .Raw}}, fmt.Sprint({{.Name}}))
{{- end}}
	req, err := http.NewRequestWithContext(ctx, {{quote .Endpoint.Method}}, BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return zero, fmt.Errorf("{{.Spec.Name}}: build request: %w", err)
	}
	resp, err := HTTPClient.Do(req)
	if err != nil {
		return zero, fmt.Errorf("{{.Spec.Name}}: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("{{.Spec.Name}}: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("{{.Spec.Name}}: unexpected status %d", resp.StatusCode)
	}
{{- if .ReturnIsString}}
	return string(body), nil
{{- else}}
	var out {{.Return}}
	if err := json.Unmarshal(body, &out); err != nil {
		return zero, fmt.Errorf("{{.Spec.Name}}: decode response: %w", err)
	}
	return out, nil
{{- end}}
}
{{end}}

{{define "external_tests"}}package tool

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func useTransport(t *testing.T, rt roundTripFunc) {
	t.Helper()
	old := HTTPClient
	HTTPClient = &http.Client{Transport: rt}
	t.Cleanup(func() { HTTPClient = old })
}

func respond(status int, body io.Reader) roundTripFunc {
	return func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: status, Body: io.NopCloser(body), Header: make(http.Header), Request: r}, nil
	}
}

func Test{{.Func}}Success(t *testing.T) {
	var seen *http.Request
	useTransport(t, func(r *http.Request) (*http.Response, error) {
		seen = r
		return respond(http.StatusOK, strings.NewReader({{quote .SampleBody}}))(r)
	})
	if _, err := {{.Func}}(context.Background(){{.ZeroArgsLead}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == nil || seen.Method != {{quote .Endpoint.Method}} {
		t.Fatalf("request not sent as expected: %+v", seen)
	}
{{- range .Params}}
	if !seen.URL.Query().Has({{quote .Raw}}) {
		t.Errorf("missing query parameter {{.Raw}}")
	}
{{- end}}
}

func Test{{.Func}}Status(t *testing.T) {
	useTransport(t, respond(http.StatusInternalServerError, strings.NewReader("")))
	if _, err := {{.Func}}(context.Background(){{.ZeroArgsLead}}); err == nil {
		t.Fatal("expected status error")
	}
}

func Test{{.Func}}TransportError(t *testing.T) {
	useTransport(t, func(*http.Request) (*http.Response, error) { return nil, errors.New("offline") })
	if _, err := {{.Func}}(context.Background(){{.ZeroArgsLead}}); err == nil {
		t.Fatal("expected transport error")
	}
}

func Test{{.Func}}ReadError(t *testing.T) {
	useTransport(t, respond(http.StatusOK, failingReader{}))
	if _, err := {{.Func}}(context.Background(){{.ZeroArgsLead}}); err == nil {
		t.Fatal("expected read error")
	}
}

func Test{{.Func}}BadURL(t *testing.T) {
	old := BaseURL
	BaseURL = "%zz"
	t.Cleanup(func() { BaseURL = old })
	if _, err := {{.Func}}(context.Background(){{.ZeroArgsLead}}); err == nil {
		t.Fatal("expected request build error")
	}
}
{{- if not .ReturnIsString}}

func Test{{.Func}}DecodeError(t *testing.T) {
	useTransport(t, respond(http.StatusOK, strings.NewReader("not json")))
	if _, err := {{.Func}}(context.Background(){{.ZeroArgsLead}}); err == nil {
		t.Fatal("expected decode error")
	}
}
{{- end}}
{{end}}

{{define "minimal_code"}}package tool

// {{.Func}} {{.Purpose}}
//
// Minimal direct implementation: returns the zero value of the declared output.
func {{.Func}}({{.ParamList}}) ({{.Return}}, error) {
{{- if .Params}}
	_ = []any{ {{- .ArgNames -}} }
{{- end}}
	var result {{.Return}}
	return result, nil
}
{{end}}

{{define "minimal_tests"}}package tool

import (
	"reflect"
	"testing"
)

func Test{{.Func}}ReturnsZeroValue(t *testing.T) {
	got, err := {{.Func}}({{.ZeroArgs}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var want {{.Return}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
{{end}}

{{define "docs"}}# {{.Spec.Name}}

{{.Spec.Purpose}}

Strategy: {{.Strategy}}

## Signature

    {{.Func}}({{if or (eq .Strategy "STANDARD") (eq .Strategy "EXTERNAL")}}ctx context.Context{{if .Params}}, {{end}}{{end}}{{.ParamList}}) ({{.Return}}, error)

## Parameters
{{if .Params}}
| Name | Type | Description |
|------|------|-------------|
{{- range .Params}}
| {{.Raw}} | {{.Kind}} | {{.Desc}} |
{{- end}}
{{else}}
None.
{{end}}
## Output

{{.Spec.OutputFormat}}
{{- if .Capability}}

Backed by the hosted capability {{.Capability}}; bind it through Hosted before calling.
{{- end}}
{{- if .Endpoint.Name}}

Calls {{.Endpoint.Method}} {{.Endpoint.URL}}.
{{- end}}
{{end}}
`
