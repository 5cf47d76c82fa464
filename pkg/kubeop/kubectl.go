package kubeop

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/mmlt/kubectl-yamlop/pkg/operator"
	"github.com/mmlt/kubectl-yamlop/pkg/util/exe"
	"github.com/mmlt/kubectl-yamlop/pkg/util/exe/kubectl"
)

// Kubectler provides methods to invoke kubectl.
type Kubectler interface {
	Run(ctx context.Context, stdin string, args ...string) (string, string, error)
}

// Kubectl can run kubectl cli.
type Kubectl struct {
	// Environ are the environment variables on kubectl invocation.
	Environ []string
	// Kubectl binary name and global arguments.
	KubeCtl, KubeConfig, KubeContext string

	Log logr.Logger
}

// NewKubectl returns a Kubectl that accesses the cluster selected by the task config.
// When in_cluster is true the kubeconfig and context are not passed so kubectl uses the pod service account.
func NewKubectl(binary string, environ []string, config operator.Config, log logr.Logger) *Kubectl {
	k := &Kubectl{
		Environ: environ,
		KubeCtl: binary,
		Log:     log,
	}
	if !config.IsInCluster() {
		k.KubeConfig = config.ConfigFile
		k.KubeContext = config.ClusterContext
	}
	return k
}

// Run kubectl.
func (k Kubectl) Run(ctx context.Context, stdin string, args ...string) (string, string, error) {
	return kubectl.Run(ctx, k.Log, k.kubectlOpt(), stdin, args...)
}

func (k Kubectl) kubectlOpt() *kubectl.Opt {
	return &kubectl.Opt{
		ExeOpt: &exe.Opt{
			Env: k.Environ,
		},
		KubeCtl:     k.KubeCtl,
		KubeConfig:  k.KubeConfig,
		KubeContext: k.KubeContext,
	}
}

var _ Kubectler = Kubectl{}
