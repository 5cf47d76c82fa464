// Package operator renders YAML templates for tasks.
//
// Base implements loading, rendering, persisting and parsing of a task's YAML template.
// A concrete task type embeds Base and adds Execute to satisfy Operator;
// the host holds tasks as Operator and calls Execute at task-run time.
package operator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/mmlt/kubectl-yamlop/pkg/tmplenv"
	"github.com/mmlt/kubectl-yamlop/pkg/util/yamlx"
	"gopkg.in/yaml.v2"
)

// Operator is a task that the host can render and execute.
type Operator interface {
	// TaskID returns the task identifier.
	TaskID() string
	// RenderTemplate renders the task template and returns the parsed YAML.
	RenderTemplate(host Host) (interface{}, error)
	// Execute runs the task.
	Execute(ctx context.Context, rc *RunContext) error
}

// Host provides the template environment for rendering.
type Host interface {
	// TemplateEnv returns the environment to load and compile templates with.
	TemplateEnv() (tmplenv.Environment, error)
	// TemplateSearchPath returns the directories that named templates are searched in.
	// When empty, template names are file paths.
	TemplateSearchPath() []string
}

// RunContext is passed to Execute; it is created by the host for each task attempt.
type RunContext struct {
	DAGID       string
	TaskID      string
	RunID       string
	LogicalDate time.Time
	// TryNumber is 1 for the first attempt.
	TryNumber int
	Host      Host
	Log       logr.Logger
}

// Config is the task configuration.
type Config struct {
	// YAMLFileName is the template name, a path when the host has no search path.
	YAMLFileName string `yaml:"yaml_file_name"`
	// YAMLWritePath is the directory to write the rendered template to (optional).
	YAMLWritePath string `yaml:"yaml_write_path"`
	// YAMLWriteFilename is the name of the written file, defaults to YAMLFileName.
	YAMLWriteFilename string `yaml:"yaml_write_filename"`
	// YAMLTemplateFields are the values that are substituted in the template.
	YAMLTemplateFields yamlx.Values `yaml:"yaml_template_fields"`

	// InCluster selects the pod service account instead of a kubeconfig file.
	InCluster *bool `yaml:"in_cluster"`
	// ConfigFile is a kubeconfig file path.
	ConfigFile string `yaml:"config_file"`
	// ClusterContext is the context to use in ConfigFile.
	ClusterContext string `yaml:"cluster_context"`
}

// Validate returns an error when required Config fields are missing.
func (c Config) Validate() error {
	if strings.TrimSpace(c.YAMLFileName) == "" {
		return errors.New("yaml_file_name is required")
	}
	return nil
}

// IsInCluster returns true when InCluster is set and true.
func (c Config) IsInCluster() bool {
	return c.InCluster != nil && *c.InCluster
}

// Base renders the task template.
// Use NewBase to create one.
type Base struct {
	id     string
	config Config
	// fields is owned by this instance.
	fields yamlx.Values

	Log logr.Logger
}

// NewBase returns a Base for task id.
// The template fields of config are copied; later changes to config don't affect the Base.
func NewBase(id string, config Config, log logr.Logger) Base {
	config.YAMLTemplateFields = yamlx.DeepCopy(config.YAMLTemplateFields)
	return Base{
		id:     id,
		config: config,
		fields: yamlx.DeepCopy(config.YAMLTemplateFields),
		Log:    log,
	}
}

// TaskID returns the task identifier.
func (b *Base) TaskID() string {
	return b.id
}

// Config returns the task configuration.
func (b *Base) Config() Config {
	c := b.config
	c.YAMLTemplateFields = yamlx.DeepCopy(c.YAMLTemplateFields)
	return c
}

// Fields returns the template fields of this instance.
func (b *Base) Fields() yamlx.Values {
	return b.fields
}

// OutputPath returns the path of the file the rendered template is written to.
// It returns "" when no write path is configured.
func (b *Base) OutputPath() string {
	if b.config.YAMLWritePath == "" {
		return ""
	}
	filename := b.config.YAMLWriteFilename
	if filename == "" {
		filename = b.config.YAMLFileName
	}
	return filepath.Join(b.config.YAMLWritePath, filename)
}

// RenderTemplate loads the template, renders it with the fields and parses the result as YAML.
// The rendered text is logged and, when a write path is configured, written to OutputPath
// before it is parsed. So text that isn't valid YAML is written as well.
func (b *Base) RenderTemplate(host Host) (interface{}, error) {
	env, err := host.TemplateEnv()
	if err != nil {
		return nil, err
	}

	var tmpl tmplenv.Template
	if len(host.TemplateSearchPath()) > 0 {
		tmpl, err = env.GetTemplate(b.config.YAMLFileName)
	} else {
		tmpl, err = b.templateFromFile(env)
	}
	if err != nil {
		return nil, err
	}

	text, err := tmpl.Render(b.fields)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", b.config.YAMLFileName, err)
	}
	b.Log.Info("Rendered", "task", b.id, "tpl", b.config.YAMLFileName, "txt", text)

	if p := b.OutputPath(); p != "" {
		err = writeFile(p, text)
		if err != nil {
			return nil, err
		}
	}

	return parseYAML(b.config.YAMLFileName, text)
}

// TemplateFromFile reads the template file and compiles its content.
func (b *Base) templateFromFile(env tmplenv.Environment) (tmplenv.Template, error) {
	f, err := os.Open(b.config.YAMLFileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	text, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.config.YAMLFileName, err)
	}

	return env.FromString(string(text))
}

// WriteFile creates or truncates path and writes text to it.
func writeFile(path, text string) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	_, err = io.WriteString(f, text)
	return err
}

// YAMLError is returned when rendered text is not valid YAML.
type YAMLError struct {
	// Template is the name of the rendered template.
	Template string
	// Err is the error of the YAML parser.
	Err error
}

func (e *YAMLError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Template, e.Err)
}

func (e *YAMLError) Unwrap() error {
	return e.Err
}

// ParseYAML decodes text that is expected to contain at most one YAML document.
// Scalars follow YAML 1.1 so yes/no/on/off are booleans, like kubectl reads them.
// Mappings are returned as map[string]interface{}.
// An empty text results in nil.
func parseYAML(name, text string) (interface{}, error) {
	dec := yaml.NewDecoder(strings.NewReader(text))

	var v interface{}
	err := dec.Decode(&v)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, &YAMLError{Template: name, Err: err}
	}

	var extra interface{}
	err = dec.Decode(&extra)
	if !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("expected a single document in the stream")
		}
		return nil, &YAMLError{Template: name, Err: err}
	}

	return yamlx.StringKeys(v), nil
}
