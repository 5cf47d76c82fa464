package kubeop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func TestNewKindNamespaceName(t *testing.T) {
	u := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata":   map[string]interface{}{"name": "web", "namespace": "shop"},
	}}

	got := NewKindNamespaceName(u)

	assert.Equal(t, KindNamespaceName{
		GVK:       metav1.GroupVersionKind{Group: "apps", Version: "v1", Kind: "Deployment"},
		Namespace: "shop",
		Name:      "web",
	}, got)
	assert.Equal(t, "apps, v1, Deployment, shop, web", got.String())
}
