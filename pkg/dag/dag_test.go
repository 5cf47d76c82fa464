package dag

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/mmlt/kubectl-yamlop/pkg/operator"
	"github.com/mmlt/kubectl-yamlop/pkg/util/backoff"
	"github.com/mmlt/kubectl-yamlop/pkg/util/yamlx"
	"github.com/stretchr/testify/assert"
)

// TestParse tests without accessing the filesystem.
func TestParse(t *testing.T) {
	yes := true
	tests := []struct {
		it        string
		dag       string
		setValues yamlx.Values
		want      []TaskSpec
		wantDAG   *DAG
		wantErr   []string
	}{
		{
			it: "should_read_tasks_with_defaults",
			dag: `
dag_id: example
template_searchpath: [templates, /abs]
template_engine: gotemplate
default_args:
  retries: 2
  retry_delay: 30s
  in_cluster: true
  yaml_template_fields:
    team:
      lead: klukkluk
      size: 3
tasks:
- task_id: one
  operator: fake
  yaml_file_name: a.yaml
  yaml_write_path: out
  yaml_write_filename: b.yaml
  yaml_template_fields:
    team:
      lead: pipo
- task_id: two
  operator: fake
  yaml_file_name: b.yaml
  retries: 0
  config_file: /kube/config
  cluster_context: local
`,
			wantDAG: &DAG{
				ID:         "example",
				SearchPath: []string{"/dagdir/templates", "/abs"},
				Engine:     "gotemplate",
			},
			want: []TaskSpec{
				{
					TaskID:     "one",
					Operator:   "fake",
					Retries:    2,
					RetryDelay: 30 * time.Second,
					Config: operator.Config{
						YAMLFileName:      "a.yaml",
						YAMLWritePath:     "out",
						YAMLWriteFilename: "b.yaml",
						YAMLTemplateFields: yamlx.Values{
							"team": map[string]interface{}{"lead": "pipo", "size": 3},
						},
						InCluster: &yes,
					},
				},
				{
					TaskID:     "two",
					Operator:   "fake",
					Retries:    0,
					RetryDelay: 30 * time.Second,
					Config: operator.Config{
						YAMLFileName: "b.yaml",
						YAMLTemplateFields: yamlx.Values{
							"team": map[string]interface{}{"lead": "klukkluk", "size": 3},
						},
						InCluster:      &yes,
						ConfigFile:     "/kube/config",
						ClusterContext: "local",
					},
				},
			},
		},
		{
			it: "should_let_set_values_override_template_fields",
			dag: `
dag_id: example
tasks:
- task_id: one
  operator: fake
  yaml_file_name: a.yaml
  yaml_template_fields:
    name: pipo
    keep: true
`,
			setValues: yamlx.Values{"name": "dikkedeur"},
			wantDAG:   &DAG{ID: "example"},
			want: []TaskSpec{
				{
					TaskID:   "one",
					Operator: "fake",
					Config: operator.Config{
						YAMLFileName:       "a.yaml",
						YAMLTemplateFields: yamlx.Values{"name": "dikkedeur", "keep": true},
					},
				},
			},
		},
		{
			it: "should_report_all_problems",
			dag: `
tasks:
- operator: fake
  yaml_file_name: a.yaml
- task_id: one
  operator: fake
  yaml_file_name: a.yaml
- task_id: one
  operator: fake
  yaml_file_name: a.yaml
- task_id: two
  operator: fake
- task_id: three
  operator: nope
  yaml_file_name: a.yaml
- task_id: four
  operator: fake
  yaml_file_name: a.yaml
  retry_delay: soon
`,
			wantErr: []string{
				"dag_id is required",
				"task 1: task_id is required",
				"task one: duplicate task_id",
				"task two: yaml_file_name is required",
				`task three: expected operator to be one of [fake] instead of: "nope"`,
				"task 6: ",
			},
		},
		{
			it:      "should_fail_on_invalid_yaml",
			dag:     `dag_id: [`,
			wantErr: []string{"yaml"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.it, func(t *testing.T) {
			ff := &fakeFactory{}

			d, err := parse("/dagdir", []byte(tt.dag), tt.setValues, Factories{"fake": ff.New})

			if len(tt.wantErr) > 0 {
				if assert.Error(t, err) {
					for _, e := range tt.wantErr {
						assert.Contains(t, err.Error(), e)
					}
				}
				return
			}
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, tt.wantDAG.ID, d.ID)
			assert.Equal(t, tt.wantDAG.SearchPath, d.SearchPath)
			assert.Equal(t, tt.wantDAG.Engine, d.Engine)
			assert.Len(t, d.Tasks, len(tt.want))

			for i := range ff.specs {
				// only compare the decoded fields.
				ff.specs[i].Params = nil
				ff.specs[i].Log = logr.Logger{}
			}
			assert.Equal(t, tt.want, ff.specs)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	err := os.MkdirAll(filepath.Join(dir, "templates"), 0700)
	assert.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "templates", "a.yaml"), []byte("name: {{ name }}\n"), 0600)
	assert.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "dag.yaml"), []byte(`
dag_id: example
template_searchpath: [templates]
tasks:
- task_id: one
  operator: fake
  yaml_file_name: a.yaml
  yaml_template_fields:
    name: pipo
`), 0600)
	assert.NoError(t, err)

	ff := &fakeFactory{}
	d, err := Load(filepath.Join(dir, "dag.yaml"), nil, Factories{"fake": ff.New})
	if !assert.NoError(t, err) {
		return
	}

	var out bytes.Buffer
	err = d.Render(&out)
	assert.NoError(t, err)
	assert.Equal(t, "---\n##01: one\nname: pipo\n", out.String())

	_, err = Load(filepath.Join(dir, "nope.yaml"), nil, Factories{})
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)
}

func TestLoad_RelativePath(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(wd) }()

	err = os.MkdirAll(filepath.Join("example", "templates"), 0700)
	assert.NoError(t, err)
	err = os.WriteFile(filepath.Join("example", "templates", "a.yaml"), []byte("enabled: {{ enabled }}\n"), 0600)
	assert.NoError(t, err)
	err = os.WriteFile(filepath.Join("example", "dag.yaml"), []byte(`
dag_id: example
template_searchpath: [templates]
tasks:
- task_id: one
  operator: fake
  yaml_file_name: a.yaml
  yaml_template_fields:
    enabled: yes
`), 0600)
	assert.NoError(t, err)

	d, err := Load(filepath.Join("example", "dag.yaml"), nil, Factories{"fake": (&fakeFactory{}).New})
	if !assert.NoError(t, err) {
		return
	}
	if assert.Len(t, d.SearchPath, 1) {
		assert.True(t, filepath.IsAbs(d.SearchPath[0]), "got %s", d.SearchPath[0])
	}

	got, err := d.Tasks[0].RenderTemplate(d)
	assert.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"enabled": true}, got)
}

func TestDAG_Run(t *testing.T) {
	backoff.FF = true
	defer func() { backoff.FF = false }()

	tests := []struct {
		it string
		// failures is the number of times each task fails before succeeding.
		failures []int
		retries  int
		// wantTries is the number of Execute calls per task.
		wantTries []int
		wantErr   string
	}{
		{
			it:        "should_run_all_tasks_in_order",
			failures:  []int{0, 0},
			wantTries: []int{1, 1},
		},
		{
			it:        "should_retry_failed_task",
			failures:  []int{2, 0},
			retries:   2,
			wantTries: []int{3, 1},
		},
		{
			it:        "should_stop_at_task_that_keeps_failing",
			failures:  []int{0, 5, 0},
			retries:   1,
			wantTries: []int{1, 2, 0},
			wantErr:   "task t2: failure 2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.it, func(t *testing.T) {
			d := &DAG{ID: "dag", Log: logr.Discard()}
			var ops []*fakeOperator
			for i, f := range tt.failures {
				op := &fakeOperator{id: taskName(i), failures: f}
				ops = append(ops, op)
				d.Tasks = append(d.Tasks, Task{Operator: op, Retries: tt.retries, RetryDelay: time.Second})
			}

			err := d.Run(context.Background(), "run-1")

			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			for i, op := range ops {
				assert.Equal(t, tt.wantTries[i], len(op.calls), "task %s", op.id)
				for try, rc := range op.calls {
					assert.Equal(t, try+1, rc.TryNumber)
					assert.Equal(t, "dag", rc.DAGID)
					assert.Equal(t, "run-1", rc.RunID)
					assert.Equal(t, op.id, rc.TaskID)
					assert.Same(t, d, rc.Host)
				}
			}
		})
	}
}

func TestDAG_RunTask(t *testing.T) {
	one, two := &fakeOperator{id: "one"}, &fakeOperator{id: "two"}
	d := &DAG{ID: "dag", Tasks: []Task{{Operator: one}, {Operator: two}}, Log: logr.Discard()}

	err := d.RunTask(context.Background(), "run", "two")
	assert.NoError(t, err)
	assert.Len(t, one.calls, 0)
	assert.Len(t, two.calls, 1)

	err = d.RunTask(context.Background(), "run", "three")
	assert.EqualError(t, err, "task three: not found in dag dag")
}

func TestDAG_RunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op := &fakeOperator{id: "one", failures: 1}
	d := &DAG{ID: "dag", Tasks: []Task{{Operator: op, Retries: 3}}, Log: logr.Discard()}

	err := d.Run(ctx, "run")
	assert.Error(t, err)
	assert.Len(t, op.calls, 1, "a cancelled context stops retries")
}

func TestDAG_TemplateEnv(t *testing.T) {
	d := &DAG{Engine: "gotemplate"}
	env1, err := d.TemplateEnv()
	assert.NoError(t, err)
	env2, err := d.TemplateEnv()
	assert.NoError(t, err)
	assert.Same(t, env1, env2)

	_, err = (&DAG{Engine: "mustache"}).TemplateEnv()
	assert.Error(t, err)
}

func taskName(i int) string {
	return "t" + string(rune('1'+i))
}

// FakeFactory records the specs it is called with.
type fakeFactory struct {
	specs []TaskSpec
}

func (f *fakeFactory) New(spec TaskSpec) (operator.Operator, error) {
	f.specs = append(f.specs, spec)
	b := operator.NewBase(spec.TaskID, spec.Config, spec.Log)
	return &fakeOperator{Base: &b, id: spec.TaskID}, nil
}

// FakeOperator records Execute calls and fails a number of times.
type fakeOperator struct {
	*operator.Base
	id       string
	failures int
	calls    []*operator.RunContext
}

func (o *fakeOperator) TaskID() string {
	return o.id
}

func (o *fakeOperator) RenderTemplate(host operator.Host) (interface{}, error) {
	return o.Base.RenderTemplate(host)
}

func (o *fakeOperator) Execute(ctx context.Context, rc *operator.RunContext) error {
	o.calls = append(o.calls, rc)
	if len(o.calls) <= o.failures {
		return errors.New("failure " + string(rune('0'+len(o.calls))))
	}
	return nil
}
