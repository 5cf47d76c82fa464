package kubeop

import (
	"context"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Store config.
type Store struct {
	// Namespace were data is stored.
	Namespace string `yaml:"namespace"`
	// Name of ConfigMap were data is stored.
	Name string `yaml:"name"`
	// X are extra key/values to store.
	X map[string]string `yaml:"x"`
}

// Validate returns an error when required Store fields are missing.
func (s Store) Validate() error {
	if s.Namespace == "" || s.Name == "" {
		return fmt.Errorf("store: namespace and name are required")
	}
	return nil
}

// StoreConfigMap returns the ConfigMap that records the deployed objects.
func storeConfigMap(store Store, taskID string, deployed []KindNamespaceName) (*corev1.ConfigMap, error) {
	b, err := json.Marshal(deployed)
	if err != nil {
		return nil, err
	}

	cm := &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "ConfigMap",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      store.Name,
			Namespace: store.Namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "yamlop",
			},
		},
		Data: map[string]string{
			"deployed": string(b),
			"task":     taskID,
		},
	}

	// add store X kv's
	for k, v := range store.X {
		if _, ok := cm.Data[k]; ok {
			// don't overwrite entries
			continue
		}
		cm.Data[k] = v
	}

	return cm, nil
}

// WriteStore writes deployed objects to store.
func (a *Apply) writeStore(ctx context.Context, store Store, taskID string, deployed []KindNamespaceName) error {
	cm, err := storeConfigMap(store, taskID, deployed)
	if err != nil {
		return err
	}

	d, err := json.Marshal(cm)
	if err != nil {
		return err
	}

	_, _, err = a.Kubectl.Run(ctx, string(d), a.applyArgs()...)
	if err != nil {
		return fmt.Errorf("store %s/%s: %w", store.Namespace, store.Name, err)
	}

	return nil
}
