package tmplenv

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// GoTemplate is an Environment that compiles templates with text/template.
// Fields are accessed as {{ .name }}, a missing field is an error.
type GoTemplate struct {
	searchPath []string
	functions  template.FuncMap
}

// NewGoTemplate returns a GoTemplate that loads named templates from searchPath.
func NewGoTemplate(searchPath []string, opts ...Option) (*GoTemplate, error) {
	o := newOptions(opts)
	env := OSEnvironment(o.environ)

	functions := goTemplateFunctions()
	// override Sprig function to make sure a sanitized environment is used.
	functions["env"] = func(s string) string { return env[s] }
	functions["expandenv"] = func(s string) string { return "<expandenv is not supported>" }
	if o.secrets != nil {
		functions["vault"] = o.secrets.Get
	}

	return &GoTemplate{
		searchPath: searchPath,
		functions:  functions,
	}, nil
}

// GetTemplate reads the first file called name in the search path and compiles it.
func (g *GoTemplate) GetTemplate(name string) (Template, error) {
	p, err := findInSearchPath(g.searchPath, name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return g.parse(name, string(b))
}

// FromString compiles text.
func (g *GoTemplate) FromString(text string) (Template, error) {
	return g.parse(fromStringName, text)
}

func (g *GoTemplate) parse(name, text string) (Template, error) {
	tmpl, err := template.New(name).Funcs(g.functions).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, &SyntaxError{Template: name, Err: err}
	}
	return &goTemplate{t: tmpl}, nil
}

type goTemplate struct {
	t *template.Template
}

// Render executes the template with fields as data.
func (t *goTemplate) Render(fields map[string]interface{}) (string, error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}

	var out bytes.Buffer
	err := t.t.Execute(&out, fields)
	if err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}

	return out.String(), nil
}

// GoTemplateFunctions returns a map with functions that are commonly used in templates.
// It consists of Sprig (generic)functions and TOML,JSON,YAML conversion functions.
func goTemplateFunctions() template.FuncMap {
	answer := sprig.TxtFuncMap()

	// add extra functionality
	answer["toToml"] = ToToml
	answer["toYaml"] = ToYaml
	answer["fromYaml"] = FromYaml
	answer["toJson"] = ToJson
	answer["fromJson"] = FromJson
	answer["indexOrDefault"] = indexOrDefault

	// add functions that sprig doesn't implement cross-platform (that don't work on windows)
	answer["filebase"] = filepath.Base
	answer["filedir"] = filepath.Dir
	answer["fileclean"] = filepath.Clean
	answer["fileext"] = filepath.Ext

	return answer
}

var _ Environment = (*GoTemplate)(nil)
