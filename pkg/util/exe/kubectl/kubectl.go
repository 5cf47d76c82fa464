// Package kubectl runs the kubectl cli.
package kubectl

import (
	"context"
	"github.com/go-logr/logr"
	"github.com/mmlt/kubectl-yamlop/pkg/util/exe"
)

// Opt are the command options.
type Opt struct {
	// ExeOpt optionally set a working directory, environment.
	ExeOpt *exe.Opt
	// Kubectl optionally selects the executable to use.
	KubeCtl string
	// KubeConfig optionally sets the kubeconfig file to use.
	KubeConfig string
	// KubeContext optionally sets the context to use.
	KubeContext string
}

// Run executes kubectl with 'stdin', 'args' and 'options' and returns stdout and stderr.
// Ctx is optional.
func Run(ctx context.Context, log logr.Logger, options *Opt, stdin string, args ...string) (stdout string, stderr string, err error) {
	c := "kubectl"
	var o *exe.Opt

	if options != nil {
		o = options.ExeOpt
		if options.KubeCtl != "" {
			c = options.KubeCtl
		}
	}

	return exe.Run(ctx, log, o, stdin, c, Args(options, args...)...)
}

// Args returns the kubectl arguments; global flags from options followed by args.
func Args(options *Opt, args ...string) []string {
	var a []string
	if options != nil {
		if options.KubeConfig != "" {
			a = append(a, "--kubeconfig", options.KubeConfig)
		}
		if options.KubeContext != "" {
			a = append(a, "--context", options.KubeContext)
		}
	}
	return append(a, args...)
}
