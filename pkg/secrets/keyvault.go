package secrets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/profiles/latest/keyvault/keyvault"
	"github.com/Azure/go-autorest/autorest"
	"github.com/Azure/go-autorest/autorest/azure"
	"github.com/Azure/go-autorest/autorest/azure/auth"
	"github.com/mmlt/kubectl-yamlop/pkg/util/backoff"
)

// https://docs.microsoft.com/en-us/azure/key-vault/about-keys-secrets-and-certificates

// ResourceKeyVault is the resource name for KeyVault.
// (also referred to as 'audience')
const resourceKeyVault = "https://vault.azure.net"

// NewKeyVault returns an Azure Key Vault client.
// Values contains "URL" and client credentials (or certificates or username/password)
// as documented in https://docs.microsoft.com/en-us/azure/go/azure-sdk-go-authorization#use-environment-based-authentication
// During development cli=true can be specified to use `az login` bearer token instead.
func NewKeyVault(values map[string]string) (*KeyVault, error) {
	k := &KeyVault{
		client:  keyvault.New(),
		url:     strings.TrimSuffix(strings.TrimSpace(values["URL"]), "/"),
		retries: 10,
	}

	if k.url == "" {
		return nil, fmt.Errorf("no URL")
	}

	var a autorest.Authorizer
	var err error
	switch strings.TrimSpace(values["cli"]) {
	case "true":
		a, err = auth.NewAuthorizerFromCLIWithResource(resourceKeyVault)
	default:
		a, err = authorizerFrom(values)
	}
	if err != nil {
		return nil, err
	}

	k.client.Authorizer = a

	return k, nil
}

// KeyVault provides reading of secrets from Azure Key Vaults.
type KeyVault struct {
	client  keyvault.BaseClient
	url     string
	retries int
}

// Get value addressed by key from vault.
// If field is empty return the value as-is.
// Otherwise expect the value to be a JSON object and field a field of the object.
func (k KeyVault) Get(key, field string) string {
	s, err := k.get(key)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}

	if field == "" || field == "." {
		return s
	}

	return jsonField(key, s, field)
}

// Get gets a KeyVault secret by name.
func (k KeyVault) get(name string) (string, error) {
	var err error
	for exp := backoff.NewExponential(10 * time.Second); exp.Retries() < k.retries; exp.Sleep() {
		r, e := k.client.GetSecret(context.Background(), k.url, name, "")
		if e == nil && r.Value != nil {
			return *r.Value, nil
		}
		if e == nil {
			e = fmt.Errorf("empty value")
		}
		err = e
	}
	return "", fmt.Errorf("no secret %s: %w", name, err)
}

// AuthorizerFrom returns an authorizer from AZURE_* key-value pairs.
func authorizerFrom(values map[string]string) (autorest.Authorizer, error) {
	s, err := settingsFrom(values)
	if err != nil {
		return nil, err
	}

	return s.GetAuthorizer()
}

func settingsFrom(values map[string]string) (*auth.EnvironmentSettings, error) {
	clientCredentials := []string{auth.TenantID, auth.ClientID, auth.ClientSecret}
	certificate := []string{auth.TenantID, auth.ClientID, auth.CertificatePath, auth.CertificatePassword}
	usernamePassword := []string{auth.TenantID, auth.ClientID, auth.Username, auth.Password}
	if !(has(values, clientCredentials) ||
		has(values, certificate) ||
		has(values, usernamePassword)) {
		return nil, fmt.Errorf("expected client, certificate or username/password credential values")
	}

	vs := make(map[string]string, len(values))
	for k, v := range values {
		vs[k] = strings.TrimSpace(v)
	}

	s := &auth.EnvironmentSettings{
		Values:      vs,
		Environment: azure.PublicCloud,
	}

	var err error
	if v := vs[auth.EnvironmentName]; v != "" {
		s.Environment, err = azure.EnvironmentFromName(v)
	}
	if vs[auth.Resource] == "" {
		vs[auth.Resource] = resourceKeyVault
	}

	return s, err
}

// Has returns true if m has required values.
func has(m map[string]string, required []string) bool {
	for _, r := range required {
		if strings.TrimSpace(m[r]) == "" {
			return false
		}
	}
	return true
}

var _ Getter = KeyVault{}
