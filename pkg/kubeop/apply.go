// Package kubeop contains operators that act on the rendered YAML.
//
//	apply - apply the rendered Kubernetes objects to a cluster with kubectl.
//	print - write the rendered YAML to a stream.
package kubeop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/mmlt/kubectl-yamlop/pkg/dag"
	"github.com/mmlt/kubectl-yamlop/pkg/operator"
	"github.com/mmlt/kubectl-yamlop/pkg/util/yamlx"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Apply renders its template and applies the resulting Kubernetes objects.
type Apply struct {
	operator.Base

	// Kubectl knows how to invoke 'kubectl' for the cluster selected by the task config.
	Kubectl Kubectler
	// DryRun prevents making changes to the target cluster.
	DryRun bool
	// Store optionally records the applied objects in a ConfigMap.
	Store *Store
}

// ApplyOptions are the settings that are shared by all 'apply' tasks.
type ApplyOptions struct {
	// Kubectl is the binary to access the target cluster with.
	Kubectl string
	// Environ are the environment variables on kubectl invocation.
	Environ []string
	// DryRun prevents making changes to the target cluster.
	DryRun bool
}

// ApplyFactory returns a factory for 'apply' tasks.
// Besides the operator.Config fields a task can have a 'store' field, see Store.
func ApplyFactory(opts ApplyOptions) dag.Factory {
	return func(spec dag.TaskSpec) (operator.Operator, error) {
		cfg := spec.Config
		if cfg.IsInCluster() && (cfg.ConfigFile != "" || cfg.ClusterContext != "") {
			return nil, fmt.Errorf("in_cluster can not be combined with config_file or cluster_context")
		}

		p := &struct {
			Store *Store `yaml:"store"`
		}{}
		err := decodeParams(spec.Params, p)
		if err != nil {
			return nil, err
		}
		if p.Store != nil {
			if err := p.Store.Validate(); err != nil {
				return nil, err
			}
		}

		return &Apply{
			Base:    operator.NewBase(spec.TaskID, cfg, spec.Log),
			Kubectl: NewKubectl(opts.Kubectl, opts.Environ, cfg, spec.Log),
			DryRun:  opts.DryRun,
			Store:   p.Store,
		}, nil
	}
}

// Execute renders the template and applies each object.
func (a *Apply) Execute(ctx context.Context, rc *operator.RunContext) error {
	name := a.Config().YAMLFileName

	tree, err := a.RenderTemplate(rc.Host)
	if err != nil {
		return err
	}

	objs, err := objects(tree)
	if err != nil {
		return fmt.Errorf("tpl %s: %w", name, err)
	}

	deployed := make([]KindNamespaceName, 0, len(objs))
	for _, obj := range objs {
		deployed = append(deployed, NewKindNamespaceName(obj))
	}
	if d := duplicates(deployed); len(d) > 0 {
		return fmt.Errorf("tpl %s: objects overwrite each other: %v", name, d)
	}

	if len(objs) == 0 {
		a.log(rc, "", name, "apply", "nothing to apply")
	}

	for i, obj := range objs {
		id := fmt.Sprintf("%02d", i+1)

		b, err := json.Marshal(obj.Object)
		if err != nil {
			return fmt.Errorf("##%s tpl %s: %w", id, name, err)
		}

		stdout, _, err := a.Kubectl.Run(ctx, string(b), a.applyArgs()...)
		if err != nil {
			return fmt.Errorf("##%s tpl %s: %w", id, name, err)
		}

		a.log(rc, id, name, "apply", stdout)
	}

	if a.Store != nil {
		return a.writeStore(ctx, *a.Store, a.TaskID(), deployed)
	}

	return nil
}

func (a *Apply) applyArgs() []string {
	args := []string{"apply", "-f", "-"}
	if a.DryRun {
		args = append(args, "--dry-run=client")
	}
	return args
}

// Log a line for step name.
func (a *Apply) log(rc *operator.RunContext, id, tpl, step, txt string) {
	rc.Log.Info(step,
		"task", rc.TaskID,
		"try", rc.TryNumber,
		"id", id,
		"txt", strings.TrimSuffix(txt, "\n"),
		"tpl", tpl)
}

// Objects returns the Kubernetes objects in a parsed YAML tree.
// A mapping is one object, unless it's a List in which case its items are returned.
// A sequence results in its elements.
func objects(tree interface{}) ([]*unstructured.Unstructured, error) {
	var items []interface{}
	switch v := tree.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		if v["kind"] == "List" {
			l, ok := v["items"].([]interface{})
			if !ok && v["items"] != nil {
				return nil, fmt.Errorf("expected List items to be a sequence, got %T", v["items"])
			}
			items = l
		} else {
			items = []interface{}{v}
		}
	case []interface{}:
		items = v
	default:
		return nil, fmt.Errorf("expected a mapping or sequence of Kubernetes objects, got %T", tree)
	}

	var r []*unstructured.Unstructured
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("object %d: expected a mapping, got %T", i+1, item)
		}
		obj := &unstructured.Unstructured{Object: m}
		if obj.GetKind() == "" || obj.GetName() == "" {
			return nil, fmt.Errorf("object %d: kind and metadata.name are required", i+1)
		}
		r = append(r, obj)
	}

	return r, nil
}

// DecodeParams decodes task params into result using 'yaml' tags.
func decodeParams(params yamlx.Values, result interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "yaml",
		Result:  result,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]interface{}(params))
}
