// Package secrets provides read access to secrets from templates.
//
// A secrets store is configured by a directory containing files;
//	type - Type of store to read from, valid values are: azure-key-vault | hashicorp-vault | file
//	URL - URL of the vault (azure-key-vault, hashicorp-vault)
//	token, CA, tlsSkipVerify - access to hashicorp-vault
//	AZURE_* - credentials to access azure-key-vault (cli credentials are used if cli=true)
// With type 'file' the (other) files in the directory are the secrets.
package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Getter allows reading object fields in templates.
type Getter interface {
	// Get returns the value of an object field.
	// An object is identified by key.
	// For composite objects field selects the value, for non-composites field should be empty or "."
	Get(key, field string) string
}

// Store types.
const (
	TypeFile           = "file"
	TypeAzureKeyVault  = "azure-key-vault"
	TypeHashiCorpVault = "hashicorp-vault"
)

// New creates a Getter according to the files in configPath.
// If no configPath is specified an empty file Getter is returned.
func New(configPath string) (Getter, error) {
	if configPath == "" {
		return File{}, nil
	}

	files, err := os.ReadDir(configPath)
	if err != nil {
		return nil, fmt.Errorf("secrets config: %w", err)
	}
	m := map[string]string{}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(configPath, f.Name()))
		if err != nil {
			return nil, fmt.Errorf("secrets config: %w", err)
		}
		m[f.Name()] = string(b)
	}

	t, ok := m["type"]
	if !ok {
		return nil, fmt.Errorf("secrets config %s: expected 'type' file", configPath)
	}
	switch t {
	case TypeAzureKeyVault:
		g, err := NewKeyVault(m)
		if err != nil {
			return nil, fmt.Errorf("Azure KeyVault config %s: %w", configPath, err)
		}
		return g, nil
	case TypeHashiCorpVault:
		g, err := NewHashiVault(m)
		if err != nil {
			return nil, fmt.Errorf("HashiCorp Vault config %s: %w", configPath, err)
		}
		return g, nil
	case TypeFile:
		delete(m, "type")
		return File(m), nil
	default:
		return nil, fmt.Errorf("secrets config %s must be one of [%s,%s,%s], got: %s",
			filepath.Join(configPath, "type"), TypeAzureKeyVault, TypeHashiCorpVault, TypeFile, t)
	}
}

// File allows reading secrets from a map of file name to file content.
type File map[string]string

// Get value addressed by key from files.
// If field is empty return the value as-is.
// Otherwise expect the value to be a JSON object and field a field of the object.
func (fg File) Get(key, field string) string {
	v, ok := fg[key]
	if !ok {
		return fmt.Sprintf("<not found: %s>", key)
	}

	if field == "" || field == "." {
		return v
	}

	return jsonField(key, v, field)
}

// JsonField returns the field of JSON object v.
func jsonField(key, v, field string) string {
	m := map[string]interface{}{}
	err := json.Unmarshal([]byte(v), &m)
	if err != nil {
		return fmt.Sprintf("<%s: %v>", key, err)
	}

	f, ok := m[field]
	if !ok {
		return fmt.Sprintf("<not found: %s>", field)
	}
	return fmt.Sprint(f)
}

var _ Getter = File{}
