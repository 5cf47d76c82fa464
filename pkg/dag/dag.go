// Package dag loads a DAG file with tasks and runs the tasks.
//
// DAG file YAML format.
//
//	dag_id: example
//	template_searchpath: [templates]
//	template_engine: jinja
//	secrets: path/to/secrets
//	default_args:
//	  retries: 1
//	  retry_delay: 10s
//	tasks:
//	- task_id: cm
//	  operator: apply
//	  yaml_file_name: configmap.yaml
//	  yaml_template_fields:
//	    name: example
//
// Relative template_searchpath and secrets paths are relative to the DAG file.
package dag

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/mmlt/kubectl-yamlop/pkg/operator"
	"github.com/mmlt/kubectl-yamlop/pkg/secrets"
	"github.com/mmlt/kubectl-yamlop/pkg/tmplenv"
	"github.com/mmlt/kubectl-yamlop/pkg/util/backoff"
	"gopkg.in/yaml.v3"
)

// DAG is responsible for providing the template environment to its tasks and running them.
type DAG struct {
	// ID identifies the DAG.
	ID string
	// SearchPath are the directories that named templates are loaded from.
	// When empty template names are file paths.
	SearchPath []string
	// Engine is the template engine, see tmplenv.New
	Engine string
	// Environ are the environment variables that templates can read.
	Environ []string
	// Secrets are readable from templates (optional).
	Secrets secrets.Getter

	// Tasks in execution order.
	Tasks []Task

	Log logr.Logger

	// env is the lazily created template environment.
	env tmplenv.Environment
}

// Task is an operator with its retry policy.
type Task struct {
	operator.Operator

	// Retries is the number of times a failed task is retried.
	Retries int
	// RetryDelay is the maximum delay between retries.
	RetryDelay time.Duration
}

// TemplateEnv returns the template environment.
// It is created on first use.
func (d *DAG) TemplateEnv() (tmplenv.Environment, error) {
	if d.env != nil {
		return d.env, nil
	}

	opts := []tmplenv.Option{tmplenv.WithEnviron(d.Environ)}
	if d.Secrets != nil {
		opts = append(opts, tmplenv.WithSecrets(d.Secrets))
	}
	env, err := tmplenv.New(d.Engine, d.SearchPath, opts...)
	if err != nil {
		return nil, err
	}
	d.env = env

	return env, nil
}

// TemplateSearchPath returns the template search path.
func (d *DAG) TemplateSearchPath() []string {
	return d.SearchPath
}

var _ operator.Host = &DAG{}

// Render renders the templates of all tasks and writes the results to out.
// Tasks are not executed.
func (d *DAG) Render(out io.Writer) error {
	for i, t := range d.Tasks {
		v, err := t.RenderTemplate(d)
		if err != nil {
			return fmt.Errorf("task %s: %w", t.TaskID(), err)
		}

		b, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("task %s: %w", t.TaskID(), err)
		}

		fmt.Fprintln(out, "---")
		fmt.Fprintf(out, "##%02d: %s\n", i+1, t.TaskID())
		_, err = out.Write(b)
		if err != nil {
			return err
		}
	}
	return nil
}

// Run executes all tasks in order.
// It stops at the first task that fails after retries.
func (d *DAG) Run(ctx context.Context, runID string) error {
	logicalDate := time.Now().UTC()
	for _, t := range d.Tasks {
		err := d.runTask(ctx, runID, logicalDate, t)
		if err != nil {
			return err
		}
	}
	return nil
}

// RunTask executes the task with taskID.
func (d *DAG) RunTask(ctx context.Context, runID, taskID string) error {
	for _, t := range d.Tasks {
		if t.TaskID() == taskID {
			return d.runTask(ctx, runID, time.Now().UTC(), t)
		}
	}
	return fmt.Errorf("task %s: not found in dag %s", taskID, d.ID)
}

// RunTask executes t and retries it when it fails.
func (d *DAG) runTask(ctx context.Context, runID string, logicalDate time.Time, t Task) error {
	var err error
	exp := backoff.NewExponential(t.RetryDelay)
	for try := 1; try <= t.Retries+1; try++ {
		if try > 1 {
			d.Log.Info("retry", "task", t.TaskID(), "try", try, "error", err.Error())
			if werr := exp.SleepContext(ctx); werr != nil {
				return fmt.Errorf("task %s: %w", t.TaskID(), werr)
			}
		}

		rc := &operator.RunContext{
			DAGID:       d.ID,
			TaskID:      t.TaskID(),
			RunID:       runID,
			LogicalDate: logicalDate,
			TryNumber:   try,
			Host:        d,
			Log:         d.Log.WithValues("dag", d.ID, "run", runID),
		}

		d.Log.V(1).Info("execute", "task", t.TaskID(), "try", try)
		err = t.Execute(ctx, rc)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}

	return fmt.Errorf("task %s: %w", t.TaskID(), err)
}
