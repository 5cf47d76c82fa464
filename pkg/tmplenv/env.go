// Package tmplenv provides the template environments that operators render their YAML templates with.
//
// Two engines are available:
//	jinja      - Jinja/Django syntax, see https://github.com/flosch/pongo2
//	gotemplate - https://golang.org/pkg/text/template/ with http://masterminds.github.io/sprig/
// Both read templates by name from a search path or compile them from text.
package tmplenv

import (
	"fmt"
	"strings"

	"github.com/mmlt/kubectl-yamlop/pkg/secrets"
)

// Environment locates and compiles templates.
type Environment interface {
	// GetTemplate loads the template name from the search path.
	GetTemplate(name string) (Template, error)
	// FromString compiles a template from text.
	FromString(text string) (Template, error)
}

// Template can be rendered with field values.
type Template interface {
	Render(fields map[string]interface{}) (string, error)
}

// Engine names.
const (
	EngineJinja      = "jinja"
	EngineGoTemplate = "gotemplate"
)

// New returns the Environment for engine.
// An empty engine defaults to EngineJinja.
func New(engine string, searchPath []string, opts ...Option) (Environment, error) {
	switch engine {
	case "", EngineJinja:
		return NewJinja(searchPath, opts...)
	case EngineGoTemplate:
		return NewGoTemplate(searchPath, opts...)
	}
	return nil, fmt.Errorf("expected template engine to be one of [%s,%s] instead of: %s", EngineJinja, EngineGoTemplate, engine)
}

// Option configures an Environment.
type Option func(*options)

type options struct {
	environ []string
	secrets secrets.Getter
}

// WithEnviron sets the environment variables that templates can read via 'env'.
// Without this option templates see no environment variables.
func WithEnviron(environ []string) Option {
	return func(o *options) {
		o.environ = environ
	}
}

// WithSecrets makes g available in templates as 'vault key field'.
func WithSecrets(g secrets.Getter) Option {
	return func(o *options) {
		o.secrets = g
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// SyntaxError is returned when a template can not be compiled.
type SyntaxError struct {
	// Template is the name of the template or "<string>" for a template compiled from text.
	Template string
	// Err is the error of the template engine.
	Err error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template %s: %v", e.Template, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

const fromStringName = "<string>"

// OSEnvironment converts a []string with "key=value" items to a map["key"]="value".
func OSEnvironment(environ []string) map[string]string {
	result := make(map[string]string)
	for _, s := range environ {
		sl := strings.SplitN(s, "=", 2)
		if len(sl) != 2 {
			continue
		}
		result[sl[0]] = sl[1]
	}
	return result
}
