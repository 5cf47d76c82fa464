package dag

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/mmlt/kubectl-yamlop/pkg/operator"
	"github.com/mmlt/kubectl-yamlop/pkg/secrets"
	"github.com/mmlt/kubectl-yamlop/pkg/util/stringset"
	"github.com/mmlt/kubectl-yamlop/pkg/util/yamlx"
	"gopkg.in/yaml.v3"
)

// Factory creates an operator from a task spec.
type Factory func(spec TaskSpec) (operator.Operator, error)

// Factories maps 'operator' names to their Factory.
type Factories map[string]Factory

// TaskSpec is a task as read from the DAG file with default_args merged in.
type TaskSpec struct {
	TaskID   string `yaml:"task_id"`
	Operator string `yaml:"operator"`
	// Retries is the number of times a failed task is retried.
	Retries int `yaml:"retries"`
	// RetryDelay is the maximum delay between retries, for example "30s".
	RetryDelay time.Duration `yaml:"retry_delay"`

	Config operator.Config `yaml:",squash"`

	// Params are all task fields, including the ones above.
	// Factories read operator specific fields from it.
	Params yamlx.Values `yaml:"-"`
	// Log is the logger for the task.
	Log logr.Logger `yaml:"-"`
}

// Option configures the DAG that is loaded.
type Option func(*DAG)

// WithEnviron sets the environment variables that templates can read.
func WithEnviron(environ []string) Option {
	return func(d *DAG) {
		d.Environ = environ
	}
}

// WithLogger sets the logger of the DAG and its tasks.
func WithLogger(log logr.Logger) Option {
	return func(d *DAG) {
		d.Log = log
	}
}

// Load reads a DAG file and creates its tasks with factories.
// SetValues override the yaml_template_fields of all tasks.
// All problems found in the DAG file are reported at once.
func Load(path string, setValues yamlx.Values, factories Factories, opts ...Option) (*DAG, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dag file: %w", err)
	}

	d, err := parse(filepath.Dir(path), b, setValues, factories, opts...)
	if err != nil {
		return nil, fmt.Errorf("dag file %s: %w", path, err)
	}
	return d, nil
}

// Parse creates a DAG from DAG file content b.
// Dir is used to resolve relative paths.
func parse(dir string, b []byte, setValues yamlx.Values, factories Factories, opts ...Option) (*DAG, error) {
	f := &struct {
		DAGID       string         `yaml:"dag_id"`
		SearchPath  []string       `yaml:"template_searchpath"`
		Engine      string         `yaml:"template_engine"`
		Secrets     string         `yaml:"secrets"`
		// yaml.v3 gives nested mappings the type of the outer map, plain maps keep them map[string]interface{}.
		DefaultArgs map[string]interface{}   `yaml:"default_args"`
		Tasks       []map[string]interface{} `yaml:"tasks"`
	}{}
	err := yaml.Unmarshal(b, f)
	if err != nil {
		return nil, err
	}

	d := &DAG{
		ID:     f.DAGID,
		Engine: f.Engine,
		Log:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, p := range f.SearchPath {
		d.SearchPath = append(d.SearchPath, relativeTo(dir, p))
	}

	var result *multierror.Error

	if f.DAGID == "" {
		result = multierror.Append(result, errors.New("dag_id is required"))
	}

	if f.Secrets != "" {
		g, err := secrets.New(relativeTo(dir, f.Secrets))
		if err != nil {
			result = multierror.Append(result, err)
		}
		d.Secrets = g
	}

	ids := stringset.New()
	for i, raw := range f.Tasks {
		spec, err := decodeTaskSpec(yamlx.Merge(f.DefaultArgs, raw))
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("task %d: %w", i+1, err))
			continue
		}
		if spec.TaskID == "" {
			result = multierror.Append(result, fmt.Errorf("task %d: task_id is required", i+1))
			continue
		}
		if !ids.Add(spec.TaskID) {
			result = multierror.Append(result, fmt.Errorf("task %s: duplicate task_id", spec.TaskID))
			continue
		}
		if err := spec.Config.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("task %s: %w", spec.TaskID, err))
			continue
		}
		factory, ok := factories[spec.Operator]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("task %s: expected operator to be one of %v instead of: %q",
				spec.TaskID, operatorNames(factories), spec.Operator))
			continue
		}

		spec.Config.YAMLTemplateFields = yamlx.Merge(spec.Config.YAMLTemplateFields, setValues)
		spec.Log = d.Log.WithValues("task", spec.TaskID)

		op, err := factory(*spec)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("task %s: %w", spec.TaskID, err))
			continue
		}

		d.Tasks = append(d.Tasks, Task{
			Operator:   op,
			Retries:    spec.Retries,
			RetryDelay: spec.RetryDelay,
		})
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	return d, nil
}

// DecodeTaskSpec turns the task dynamic yaml into a TaskSpec.
func decodeTaskSpec(task yamlx.Values) (*TaskSpec, error) {
	spec := &TaskSpec{Params: task}

	cfg := &mapstructure.DecoderConfig{
		TagName:    "yaml",
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     spec,
	}
	dec, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	err = dec.Decode(map[string]interface{}(task))
	if err != nil {
		return nil, err
	}

	return spec, nil
}

func operatorNames(factories Factories) []string {
	s := stringset.New()
	for n := range factories {
		s.Add(n)
	}
	return s.ToSlice()
}

// RelativeTo returns the absolute path of p relative to dir unless p is absolute.
func relativeTo(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	p = filepath.Join(dir, p)
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}
