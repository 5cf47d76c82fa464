package kubeop

import (
	"context"
	"fmt"
	"io"

	"github.com/mmlt/kubectl-yamlop/pkg/dag"
	"github.com/mmlt/kubectl-yamlop/pkg/operator"
	"gopkg.in/yaml.v3"
)

// Print renders its template and writes the parsed YAML to Out.
type Print struct {
	operator.Base

	Out io.Writer
}

// PrintFactory returns a factory for 'print' tasks that write to out.
func PrintFactory(out io.Writer) dag.Factory {
	return func(spec dag.TaskSpec) (operator.Operator, error) {
		return &Print{
			Base: operator.NewBase(spec.TaskID, spec.Config, spec.Log),
			Out:  out,
		}, nil
	}
}

// Execute renders the template and writes the result.
func (p *Print) Execute(ctx context.Context, rc *operator.RunContext) error {
	tree, err := p.RenderTemplate(rc.Host)
	if err != nil {
		return err
	}

	b, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("print %s: %w", p.TaskID(), err)
	}

	fmt.Fprintln(p.Out, "---")
	fmt.Fprintf(p.Out, "##%s: %s\n", p.TaskID(), p.Config().YAMLFileName)
	_, err = p.Out.Write(b)
	return err
}
