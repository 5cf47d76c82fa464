package tmplenv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mmlt/kubectl-yamlop/pkg/util/yamlx"
	"gopkg.in/yaml.v3"
)

// ToYaml takes an interface, marshals it to yaml, and returns a string.
// It will always return a string, even on marshal error (empty string).
func ToYaml(v interface{}) string {
	b, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(string(b), "\n")
}

// FromYaml converts a YAML document into a map[string]interface{}.
// On error the map contains an "Error" key with the error text.
func FromYaml(str string) map[string]interface{} {
	m := map[string]interface{}{}
	if err := yaml.Unmarshal([]byte(str), &m); err != nil {
		m["Error"] = err.Error()
	}
	return m
}

// ToJson takes an interface, marshals it to json, and returns a string.
// It will always return a string, even on marshal error (empty string).
func ToJson(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// FromJson converts a JSON document into a map[string]interface{}.
// On error the map contains an "Error" key with the error text.
func FromJson(str string) map[string]interface{} {
	m := map[string]interface{}{}
	if err := json.Unmarshal([]byte(str), &m); err != nil {
		m["Error"] = err.Error()
	}
	return m
}

// ToToml takes an interface, marshals it to toml, and returns a string.
// On marshal error the error text is returned.
func ToToml(v interface{}) string {
	b := bytes.NewBuffer(nil)
	e := toml.NewEncoder(b)
	err := e.Encode(v)
	if err != nil {
		return err.Error()
	}
	return b.String()
}

// IndexOrDefault returns the value addressed by keys in v or def when the value doesn't exist.
func indexOrDefault(def string, v interface{}, keys ...string) interface{} {
	for _, k := range keys {
		m, ok := asMap(v)
		if !ok {
			return def
		}
		v, ok = m[k]
		if !ok {
			return def
		}
	}
	if v == nil {
		return def
	}
	if m, ok := asMap(v); ok && m == nil {
		return def
	}
	return v
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch x := v.(type) {
	case map[string]interface{}:
		return x, true
	case yamlx.Values:
		return x, true
	}
	return nil, false
}

// FindInSearchPath returns the path of the first file called name in the searchPath directories.
func findInSearchPath(searchPath []string, name string) (string, error) {
	for _, dir := range searchPath {
		p := filepath.Join(dir, name)
		fi, err := os.Stat(p)
		if err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("template %s not found in search path %v: %w", name, searchPath, os.ErrNotExist)
}
