package tmplenv

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/Masterminds/sprig/v3"
	"github.com/flosch/pongo2/v6"
)

// Jinja is an Environment that compiles templates with pongo2 (Jinja/Django syntax).
// Fields are accessed as {{ name }}, a missing field renders as empty text.
type Jinja struct {
	searchPath []string
	set        *pongo2.TemplateSet
}

// NewJinja returns a Jinja environment that loads named templates from searchPath.
// Search path directories that don't exist are ignored.
//
// Autoescaping is disabled for all pongo2 template sets in the process; the output is YAML, not HTML.
func NewJinja(searchPath []string, opts ...Option) (*Jinja, error) {
	o := newOptions(opts)

	var loaders []pongo2.TemplateLoader
	for _, dir := range searchPath {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			continue
		}
		l, err := pongo2.NewLocalFileSystemLoader(dir)
		if err != nil {
			return nil, fmt.Errorf("jinja: search path %s: %w", dir, err)
		}
		loaders = append(loaders, l)
	}
	if len(loaders) == 0 {
		loaders = append(loaders, pongo2.MustNewLocalFileSystemLoader(""))
	}

	pongo2.SetAutoescape(false)
	registerFilters()

	set := pongo2.NewSet("yamlop", loaders...)
	set.Globals = jinjaGlobals(o)

	return &Jinja{
		searchPath: searchPath,
		set:        set,
	}, nil
}

// GetTemplate loads the first file called name in the search path.
func (j *Jinja) GetTemplate(name string) (Template, error) {
	p, err := findInSearchPath(j.searchPath, name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	// includes are resolved by the set loaders, relative to the search path directories.
	tpl, err := j.set.FromBytes(b)
	if err != nil {
		return nil, &SyntaxError{Template: name, Err: err}
	}
	return &jinjaTemplate{t: tpl}, nil
}

// FromString compiles text.
func (j *Jinja) FromString(text string) (Template, error) {
	tpl, err := j.set.FromString(text)
	if err != nil {
		return nil, &SyntaxError{Template: fromStringName, Err: err}
	}
	return &jinjaTemplate{t: tpl}, nil
}

type jinjaTemplate struct {
	t *pongo2.Template
}

// Render executes the template with fields as context.
func (t *jinjaTemplate) Render(fields map[string]interface{}) (string, error) {
	ctx := make(pongo2.Context, len(fields))
	for k, v := range fields {
		ctx[k] = v
	}

	s, err := t.t.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}
	return s, nil
}

// JinjaGlobals returns the functions that are callable from templates, for example {{ upper("text") }}
func jinjaGlobals(o *options) pongo2.Context {
	r := pongo2.Context{}
	for n, f := range sprig.GenericFuncMap() {
		r[n] = f
	}

	env := OSEnvironment(o.environ)
	r["env"] = func(s string) string { return env[s] }
	r["expandenv"] = func(s string) string { return "<expandenv is not supported>" }
	if o.secrets != nil {
		r["vault"] = o.secrets.Get
	}
	return r
}

func registerFilters() {
	filters := map[string]pongo2.FilterFunction{
		"toyaml": filterToYaml,
		"tojson": filterToJson,
		"totoml": filterToToml,
		"b64enc": filterB64Enc,
		"b64dec": filterB64Dec,
	}
	for n, f := range filters {
		if !pongo2.FilterExists(n) {
			_ = pongo2.RegisterFilter(n, f)
		}
	}
}

func filterToYaml(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(ToYaml(in.Interface())), nil
}

func filterToJson(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(ToJson(in.Interface())), nil
}

func filterToToml(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(ToToml(in.Interface())), nil
}

func filterB64Enc(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(base64.StdEncoding.EncodeToString([]byte(in.String()))), nil
}

func filterB64Dec(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	b, err := base64.StdEncoding.DecodeString(in.String())
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:b64dec", OrigError: err}
	}
	return pongo2.AsValue(string(b)), nil
}

var _ Environment = (*Jinja)(nil)
