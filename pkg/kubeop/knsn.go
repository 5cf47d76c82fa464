package kubeop

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// KindNamespaceName identifies a Kubernetes object.
type KindNamespaceName struct {
	GVK       metav1.GroupVersionKind
	Namespace string
	Name      string
}

// NewKindNamespaceName returns a KindNamespaceName from any kubernetes object.
func NewKindNamespaceName(obj *unstructured.Unstructured) KindNamespaceName {
	gvk := obj.GroupVersionKind()
	return KindNamespaceName{
		GVK: metav1.GroupVersionKind{
			Group:   gvk.Group,
			Version: gvk.Version,
			Kind:    gvk.Kind,
		},
		Namespace: obj.GetNamespace(),
		Name:      obj.GetName(),
	}
}

// String makes the receiver implement Stringer.
func (k KindNamespaceName) String() string {
	return fmt.Sprintf(`%v, %v, %v, %v, %v`,
		k.GVK.Group, k.GVK.Version, k.GVK.Kind, k.Namespace, k.Name)
}

// Duplicates returns list items that use the same GroupKind/namespace/name (IOW overwrite each other).
// Items are returned in order of first appearance.
func duplicates(list []KindNamespaceName) []KindNamespaceName {
	idx := make(map[KindNamespaceName]int, len(list))
	var order []KindNamespaceName
	for _, x := range list {
		x.GVK.Version = ""
		if idx[x] == 0 {
			order = append(order, x)
		}
		idx[x]++
	}

	var r []KindNamespaceName
	for _, k := range order {
		if idx[k] <= 1 {
			continue
		}
		r = append(r, k)
	}

	return r
}
