package secrets

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/mmlt/kubectl-yamlop/pkg/util/backoff"
)

// NewHashiVault returns a client to read secrets from HashiCorp Vault.
// Values contains "URL", "token" and optionally "CA" (PEM file path) and "tlsSkipVerify".
func NewHashiVault(values map[string]string) (*HashiVault, error) {
	url := strings.TrimSpace(values["URL"])
	if url == "" {
		return nil, fmt.Errorf("no URL")
	}

	c := api.DefaultConfig()
	c.Address = url
	err := c.ConfigureTLS(&api.TLSConfig{
		CACert:   strings.TrimSpace(values["CA"]),
		Insecure: strings.TrimSpace(values["tlsSkipVerify"]) == "true",
	})
	if err != nil {
		return nil, err
	}

	clnt, err := api.NewClient(c)
	if err != nil {
		return nil, err
	}
	clnt.SetToken(strings.TrimSpace(values["token"]))

	return &HashiVault{logical: clnt.Logical(), retries: 10}, nil
}

// HashiVault provides reading of secrets from HashiCorp Vault.
type HashiVault struct {
	logical logicalReader
	retries int
}

// LogicalReader is the part of api.Logical that is used.
type logicalReader interface {
	Read(path string) (*api.Secret, error)
}

// Get reads the secret at path key.
// If field is empty the secret data is returned as a JSON object.
// Data of KV version 2 secrets is unwrapped.
func (h HashiVault) Get(key, field string) string {
	data, err := h.read(key)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}

	if field == "" || field == "." {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Sprintf("<%s: %v>", key, err)
		}
		return string(b)
	}

	v, ok := data[field]
	if !ok {
		return fmt.Sprintf("<not found: %s>", field)
	}
	return fmt.Sprint(v)
}

func (h HashiVault) read(path string) (map[string]interface{}, error) {
	var err error
	for exp := backoff.NewExponential(10 * time.Second); exp.Retries() < h.retries; exp.Sleep() {
		var s *api.Secret
		s, err = h.logical.Read(path)
		if err != nil {
			continue
		}
		if s == nil || s.Data == nil {
			return nil, fmt.Errorf("not found: %s", path)
		}
		if d, ok := s.Data["data"].(map[string]interface{}); ok {
			return d, nil
		}
		return s.Data, nil
	}
	return nil, fmt.Errorf("no secret %s: %w", path, err)
}

var _ Getter = HashiVault{}
