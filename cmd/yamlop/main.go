package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/stdr"
	"github.com/mmlt/kubectl-yamlop/pkg/dag"
	"github.com/mmlt/kubectl-yamlop/pkg/kubeop"
	"github.com/mmlt/kubectl-yamlop/pkg/util/yamlx"
	"gopkg.in/yaml.v3"
)

var (
	// Version as set during build.
	Version string

	mode = flag.String("m", "",
		`Mode is one of;
render - write rendered templates to stdout
run - render templates and execute the tasks`)
	dryRun = flag.Bool("dry-run", false,
		`Dry-run prevents any change being made to the target cluster`)
	dagFile = flag.String("dag-file", "",
		`Yaml file with the tasks to perform`)
	setFile = flag.String("set-file", "",
		`Yaml file with values that override yaml_template_fields`)
	task = flag.String("task", "",
		`Run only the task with this task_id`)
	runID = flag.String("run-id", "",
		`Identifies this run in logs, defaults to manual__<time>`)

	kubeCtl = flag.String("kubectl", "kubectl",
		`The binary to access the target cluster with`)

	verbosity = flag.String("v", "0",
		`Log verbosity, higher numbers produce more output`)

	// Usage text argument: %[1]=program name, %[2]=program version.
	usage = `%[1]s %[2]s
%[1]s reads a DAG file and performs its tasks. A task renders a YAML template and is one of:
    apply: apply the Kubernetes objects in the rendered YAML to a target k8s cluster.
    print: write the rendered YAML to stdout.

Templating uses Jinja syntax 'https://github.com/flosch/pongo2' (template_engine: jinja)
or 'https://golang.org/pkg/text/template/' with 'http://masterminds.github.io/sprig/' (template_engine: gotemplate).
Additional filters/functions; toyaml, tojson, totoml, b64enc, b64dec, env and vault.

Templating examples (jinja):
    name: {{ name | default:"example" }}
    home: {{ env("HOME") }}
    password: {{ vault("db", "password") }}

Usage: %[1]s [options...]
`
)

func main() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, usage, filepath.Base(os.Args[0]), Version)
		flag.PrintDefaults()
	}
	flag.Parse()

	if msg := validate(); len(msg) > 0 {
		_, _ = fmt.Fprintln(os.Stderr, "E", strings.Join(msg, ", "))
		os.Exit(1)
	}

	v, _ := strconv.Atoi(*verbosity)
	stdr.SetVerbosity(v)
	log := stdr.New(stdlog.New(os.Stderr, "I ", stdlog.Ltime))

	values, err := readSetFile(*setFile)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "E", err)
		os.Exit(1)
	}

	factories := dag.Factories{
		"apply": kubeop.ApplyFactory(kubeop.ApplyOptions{
			Kubectl: *kubeCtl,
			Environ: os.Environ(),
			DryRun:  *dryRun,
		}),
		"print": kubeop.PrintFactory(os.Stdout),
	}
	d, err := dag.Load(*dagFile, values, factories,
		dag.WithEnviron(os.Environ()),
		dag.WithLogger(log))
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "E", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "render":
		err = d.Render(os.Stdout)
	case "run":
		id := *runID
		if id == "" {
			id = "manual__" + time.Now().UTC().Format(time.RFC3339)
		}
		if *task != "" {
			err = d.RunTask(ctx, id, *task)
		} else {
			err = d.Run(ctx, id)
		}
	}
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "E", err)
		cancel()
		os.Exit(1)
	}
}

// Validate checks flags and environment variables and returns a list error strings.
func validate() []string {
	var r []string

	if *dagFile == "" {
		r = append(r, "-dag-file should be defined")
	}

	if *mode != "render" && *mode != "run" {
		r = append(r, "-m should be one of 'render' or 'run'")
	}

	if *task != "" && *mode != "run" {
		r = append(r, "-task requires -m run")
	}

	if i, _ := strconv.Atoi(*verbosity); i < 0 || i > 5 {
		r = append(r, "-v should be in the range 0..5")
	}

	return r
}

// ReadSetFile reads the values that override yaml_template_fields.
// An empty path results in no values.
func readSetFile(path string) (yamlx.Values, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("set-file: %w", err)
	}
	var v map[string]interface{}
	err = yaml.Unmarshal(b, &v)
	if err != nil {
		return nil, fmt.Errorf("set-file %s: %w", path, err)
	}
	return yamlx.Values(v), nil
}
